// Package clob implements the live trading venue against the CLOB REST API:
// EIP-712 signed order placement, HMAC-authenticated requests, and fill
// verification.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/crypto"
	"github.com/openpredict/tradebot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdc and share amounts go on the wire as fixed-point 1e6 integers.
var sixDecimals = int32(6)

// Config configures the live venue.
type Config struct {
	// BaseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
	BaseURL string

	// FillPollInterval is the delay between fill-verification polls.
	// Defaults to 500ms.
	FillPollInterval time.Duration

	// FillPollAttempts bounds fill verification. Defaults to 6.
	FillPollAttempts int

	// Timeout applies per HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// Venue is the live domain.TradingVenue. Orders are signed locally and
// submitted over authenticated REST; fills are verified by polling the order
// status so the engine never opens a position off an unconfirmed match.
type Venue struct {
	cfg        Config
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth
	logger     *slog.Logger
}

// NewVenue creates a live venue. Call DeriveAPIKey before submitting orders.
func NewVenue(cfg Config, signer *crypto.Signer, logger *slog.Logger) *Venue {
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 500 * time.Millisecond
	}
	if cfg.FillPollAttempts <= 0 {
		cfg.FillPollAttempts = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Venue{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		logger:     logger.With(slog.String("component", "clob_venue")),
	}
}

// DeriveAPIKey performs the auth flow to obtain HMAC credentials. It signs a
// ClobAuth EIP-712 message and sends it with L1 headers; on success the venue
// is ready for authenticated requests.
func (v *Venue) DeriveAPIKey(ctx context.Context) error {
	address := v.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := v.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.BaseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return &domain.ConnectivityError{Op: "derive api key", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.ConnectivityError{Op: "read auth response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("clob: decode auth response: %w", err)
	}

	v.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	v.logger.InfoContext(ctx, "api key derived", slog.String("address", address))
	return nil
}

// SubmitOrder signs and submits one order, then verifies the fill. The
// returned FilledSize reflects what actually matched; the caller decides
// whether a partial IOC fill is acceptable.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.FillResult, error) {
	payload, err := v.buildPayload(req)
	if err != nil {
		return domain.FillResult{}, err
	}

	sig, err := v.signer.SignOrder(payload)
	if err != nil {
		return domain.FillResult{}, fmt.Errorf("clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"side":          sideString(req.Side),
			"feeRateBps":    payload.FeeRateBps,
			"nonce":         payload.Nonce,
			"expiration":    payload.Expiration,
			"signatureType": payload.SignatureType,
			"signature":     sig,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
		},
		"owner":     payload.Maker,
		"orderType": wireOrderType(req.Type),
	}

	respBody, err := v.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.FillResult{}, fmt.Errorf("clob: post order: %w", err)
	}

	var result apiOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.FillResult{}, fmt.Errorf("clob: decode order result: %w", err)
	}
	if !result.Success {
		return domain.FillResult{}, rejectionFor(result.ErrorMsg)
	}

	fill := domain.FillResult{
		OrderID:  result.OrderID,
		FilledAt: time.Now().UTC(),
	}
	if strings.EqualFold(result.Status, "matched") {
		// The API reports matched only on a complete fill of FOK/FAK orders.
		fill.FilledSize = req.Quantity
		fill.FillPrice = req.Price
		return fill, nil
	}

	// Delayed match: poll the order until it settles or the attempts run out.
	matched, price, err := v.verifyFill(ctx, result.OrderID)
	if err != nil {
		return fill, err
	}
	fill.FilledSize = matched
	if price.IsPositive() {
		fill.FillPrice = price
	} else {
		fill.FillPrice = req.Price
	}
	return fill, nil
}

// Redeem is not wired for the live venue: redemption of winning shares is an
// on-chain conditional-token call that this bot does not submit. Positions
// stay redeemable until settled manually.
func (v *Venue) Redeem(ctx context.Context, pos domain.Position) (domain.SettlementResult, error) {
	return domain.SettlementResult{}, &domain.VenueRejection{
		Code:    domain.VenueErrRejected,
		Message: fmt.Sprintf("no live redemption path for position %d; redeem on-chain", pos.ID),
	}
}

// buildPayload maps an engine order onto the signed CLOB order shape. A buy
// spends USDC (maker) for shares (taker); a sell is the reverse.
func (v *Venue) buildPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return crypto.OrderPayload{}, &domain.VenueRejection{
			Code:    domain.VenueErrRejected,
			Message: fmt.Sprintf("non-positive quantity %s", req.Quantity),
		}
	}

	usdc := req.Notional().Shift(sixDecimals).Truncate(0)
	shares := req.Quantity.Shift(sixDecimals).Truncate(0)

	payload := crypto.OrderPayload{
		Salt:       strconv.FormatInt(rand.Int63(), 10),
		Maker:      v.signer.Address().Hex(),
		Signer:     v.signer.Address().Hex(),
		Taker:      zeroAddress,
		TokenID:    req.TokenID,
		Expiration: "0",
		Nonce:      "0",
		FeeRateBps: "0",
	}
	switch req.Side {
	case domain.OrderSideBuy:
		payload.Side = 0
		payload.MakerAmount = usdc.String()
		payload.TakerAmount = shares.String()
	case domain.OrderSideSell:
		payload.Side = 1
		payload.MakerAmount = shares.String()
		payload.TakerAmount = usdc.String()
	default:
		return crypto.OrderPayload{}, &domain.VenueRejection{
			Code:    domain.VenueErrRejected,
			Message: fmt.Sprintf("unknown side %q", req.Side),
		}
	}
	return payload, nil
}

// verifyFill polls GET /order/{id} until size_matched settles.
func (v *Venue) verifyFill(ctx context.Context, orderID string) (decimal.Decimal, decimal.Decimal, error) {
	var lastMatched, lastPrice decimal.Decimal
	for attempt := 0; attempt < v.cfg.FillPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return lastMatched, lastPrice, ctx.Err()
		case <-time.After(v.cfg.FillPollInterval):
		}

		respBody, err := v.doAuthenticatedRequest(ctx, http.MethodGet, "/order/"+orderID, nil)
		if err != nil {
			return lastMatched, lastPrice, fmt.Errorf("clob: verify fill %s: %w", orderID, err)
		}

		var order apiOrder
		if err := json.Unmarshal(respBody, &order); err != nil {
			return lastMatched, lastPrice, fmt.Errorf("clob: decode order: %w", err)
		}

		if m, err := decimal.NewFromString(order.SizeMatched); err == nil {
			lastMatched = m
		}
		if p, err := decimal.NewFromString(order.Price); err == nil {
			lastPrice = p
		}
		switch strings.ToLower(order.Status) {
		case "matched", "filled", "cancelled":
			return lastMatched, lastPrice, nil
		}
	}
	return lastMatched, lastPrice, nil
}

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API.
func (v *Venue) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if v.hmacAuth != nil {
		address := v.signer.Address().Hex()
		for k, val := range v.hmacAuth.L2Headers(address, method, path, bodyStr) {
			req.Header.Set(k, val)
		}
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ConnectivityError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ConnectivityError{Op: "read " + path, Err: err}
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// rejectionFor maps CLOB error messages onto the engine's venue error codes.
func rejectionFor(msg string) error {
	lower := strings.ToLower(msg)
	code := domain.VenueErrRejected
	switch {
	case strings.Contains(lower, "balance") || strings.Contains(lower, "allowance"):
		code = domain.VenueErrInsufficientFunds
	case strings.Contains(lower, "minimum") || strings.Contains(lower, "min size"):
		code = domain.VenueErrBelowMinNotional
	}
	return &domain.VenueRejection{Code: code, Message: msg}
}

func sideString(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "SELL"
	}
	return "BUY"
}

// wireOrderType maps the engine's time-in-force to the venue's. The venue
// spells immediate-or-cancel "FAK".
func wireOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeIOC:
		return "FAK"
	case domain.OrderTypeGTC:
		return "GTC"
	default:
		return "FOK"
	}
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
