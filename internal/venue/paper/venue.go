package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

var (
	one          = decimal.NewFromInt(1)
	basisDivisor = decimal.NewFromInt(10000)
	maxPrice     = decimal.RequireFromString("0.999")
	minPrice     = decimal.RequireFromString("0.001")
)

// Config tunes the fill simulation.
type Config struct {
	// SlippageBps shifts every fill against the trade: buys fill that many
	// basis points above the requested price, sells below. Zero means fills
	// at the quoted price exactly.
	SlippageBps decimal.Decimal

	// TakerFeeRate, when positive, charges rate * min(p, 1-p) per share the
	// way the real venue does.
	TakerFeeRate decimal.Decimal
}

// Venue is a domain.TradingVenue that fills every order immediately against
// the wallet, with no network involved. Its determinism is what makes the
// executor and closer testable end to end.
type Venue struct {
	cfg    Config
	wallet *Wallet
	logger *slog.Logger

	mu     sync.Mutex
	nextID int64
}

// NewVenue returns a paper venue drawing on the given wallet.
func NewVenue(cfg Config, wallet *Wallet, logger *slog.Logger) *Venue {
	return &Venue{
		cfg:    cfg,
		wallet: wallet,
		logger: logger.With(slog.String("component", "paper_venue")),
	}
}

// Wallet exposes the backing wallet for equity reporting and clean restarts.
func (v *Venue) Wallet() *Wallet { return v.wallet }

// SubmitOrder fills the full quantity at the slippage-adjusted price. Buys
// that the wallet cannot cover are rejected with no balance change.
func (v *Venue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.FillResult, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return domain.FillResult{}, &domain.VenueRejection{
			Code:    domain.VenueErrRejected,
			Message: fmt.Sprintf("non-positive quantity %s", req.Quantity),
		}
	}

	fillPrice := v.slip(req.Side, req.Price)
	notional := fillPrice.Mul(req.Quantity)
	fee := v.takerFee(fillPrice).Mul(req.Quantity)

	switch req.Side {
	case domain.OrderSideBuy:
		if err := v.wallet.Debit(notional.Add(fee)); err != nil {
			v.logger.WarnContext(ctx, "paper order rejected",
				slog.String("client_id", req.ClientID),
				slog.String("token_id", req.TokenID),
				slog.String("notional", notional.String()))
			return domain.FillResult{}, err
		}
	case domain.OrderSideSell:
		v.wallet.Credit(notional.Sub(fee))
	default:
		return domain.FillResult{}, &domain.VenueRejection{
			Code:    domain.VenueErrRejected,
			Message: fmt.Sprintf("unknown side %q", req.Side),
		}
	}

	fill := domain.FillResult{
		OrderID:    v.orderID(),
		FilledSize: req.Quantity,
		FillPrice:  fillPrice,
		FeePaid:    fee,
		FilledAt:   time.Now().UTC(),
	}
	v.logger.InfoContext(ctx, "paper fill",
		slog.String("order_id", fill.OrderID),
		slog.String("client_id", req.ClientID),
		slog.String("token_id", req.TokenID),
		slog.String("side", string(req.Side)),
		slog.String("price", fill.FillPrice.String()),
		slog.String("size", fill.FilledSize.String()))
	return fill, nil
}

// Redeem pays $1.00 per share into the wallet.
func (v *Venue) Redeem(ctx context.Context, pos domain.Position) (domain.SettlementResult, error) {
	paid := one.Mul(pos.Quantity)
	v.wallet.Credit(paid)

	settle := domain.SettlementResult{
		TxID:       v.orderID(),
		PaidAmount: paid,
		SettledAt:  time.Now().UTC(),
	}
	v.logger.InfoContext(ctx, "paper redemption",
		slog.Int64("position_id", pos.ID),
		slog.String("token_id", pos.TokenID),
		slog.String("paid", paid.String()))
	return settle, nil
}

// slip moves the price against the trade by the configured basis points,
// clamped inside the valid (0, 1) price band.
func (v *Venue) slip(side domain.OrderSide, price decimal.Decimal) decimal.Decimal {
	if v.cfg.SlippageBps.IsZero() {
		return price
	}
	delta := price.Mul(v.cfg.SlippageBps).Div(basisDivisor)
	var slipped decimal.Decimal
	if side == domain.OrderSideBuy {
		slipped = price.Add(delta)
	} else {
		slipped = price.Sub(delta)
	}
	if slipped.GreaterThan(maxPrice) {
		return maxPrice
	}
	if slipped.LessThan(minPrice) {
		return minPrice
	}
	return slipped
}

func (v *Venue) takerFee(price decimal.Decimal) decimal.Decimal {
	if !v.cfg.TakerFeeRate.IsPositive() {
		return decimal.Zero
	}
	cheaper := price
	if complement := one.Sub(price); complement.LessThan(cheaper) {
		cheaper = complement
	}
	return v.cfg.TakerFeeRate.Mul(cheaper)
}

func (v *Venue) orderID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	return fmt.Sprintf("paper-%d", v.nextID)
}
