package domain

import (
	"errors"
	"fmt"
)

// Sentinels shared across stores, caches, and API clients.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// ErrorCategory buckets execution failures for the periodic summary.
type ErrorCategory string

const (
	ErrCategoryNone         ErrorCategory = "none"
	ErrCategoryValidation   ErrorCategory = "validation"
	ErrCategoryRiskLimit    ErrorCategory = "risk_limit"
	ErrCategoryVenue        ErrorCategory = "venue_rejection"
	ErrCategoryConnectivity ErrorCategory = "connectivity"
	ErrCategoryConsistency  ErrorCategory = "consistency"
	ErrCategoryOther        ErrorCategory = "other"
)

// VenueErrorCode refines VenueRejection into the categories the executor
// reports instead of opaque failures.
type VenueErrorCode string

const (
	VenueErrInsufficientFunds VenueErrorCode = "insufficient_funds_or_approval"
	VenueErrBelowMinNotional  VenueErrorCode = "below_minimum_notional"
	VenueErrRejected          VenueErrorCode = "rejected"
)

// ValidationError means a signal failed its own strategy's Validate. Dropped
// for the cycle with an info-level record, never retried.
type ValidationError struct {
	Strategy string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: strategy %s rejected signal: %s", e.Strategy, e.Reason)
}

// RiskLimitError means an order or position cap would be exceeded. Rejected
// locally, before any venue call.
type RiskLimitError struct {
	Limit  string
	Detail string
}

func (e *RiskLimitError) Error() string {
	return fmt.Sprintf("risk limit %s: %s", e.Limit, e.Detail)
}

// VenueRejection is a definitive no from the trading venue.
type VenueRejection struct {
	Code    VenueErrorCode
	Message string
}

func (e *VenueRejection) Error() string {
	return fmt.Sprintf("venue rejection (%s): %s", e.Code, e.Message)
}

// ConnectivityError wraps a timeout or upstream block. Not retried within
// the same call; the opportunity reappears on the next cycle if still valid.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity: %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ConsistencyError means an illegal position-state transition was attempted.
// It aborts only the offending operation and leaves the record unchanged.
type ConsistencyError struct {
	PositionID int64
	From       PositionStatus
	To         PositionStatus
	Detail     string
}

func (e *ConsistencyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("consistency: position %d: %s", e.PositionID, e.Detail)
	}
	return fmt.Sprintf("consistency: position %d: illegal transition %s -> %s", e.PositionID, e.From, e.To)
}

// Classify maps an error to its summary category.
func Classify(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryNone
	}
	var (
		ve *ValidationError
		rl *RiskLimitError
		vr *VenueRejection
		ce *ConnectivityError
		cs *ConsistencyError
	)
	switch {
	case errors.As(err, &ve):
		return ErrCategoryValidation
	case errors.As(err, &rl):
		return ErrCategoryRiskLimit
	case errors.As(err, &vr):
		return ErrCategoryVenue
	case errors.As(err, &ce):
		return ErrCategoryConnectivity
	case errors.As(err, &cs):
		return ErrCategoryConsistency
	default:
		return ErrCategoryOther
	}
}
