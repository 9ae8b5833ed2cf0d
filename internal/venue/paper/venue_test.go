package paper

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestVenue(cfg Config, balance string) *Venue {
	return NewVenue(cfg, NewWallet(dec(balance)), slog.Default())
}

func buy(token, price, qty string) domain.OrderRequest {
	return domain.OrderRequest{
		ClientID: "client-1",
		TokenID:  token,
		Side:     domain.OrderSideBuy,
		Price:    dec(price),
		Quantity: dec(qty),
		Type:     domain.OrderTypeIOC,
	}
}

func TestSubmitOrderFillsAtQuotedPrice(t *testing.T) {
	v := newTestVenue(Config{}, "100")

	fill, err := v.SubmitOrder(context.Background(), buy("tok-1", "0.48", "10"))
	require.NoError(t, err)

	assert.True(t, fill.FillPrice.Equal(dec("0.48")))
	assert.True(t, fill.FilledSize.Equal(dec("10")))
	assert.True(t, fill.FeePaid.IsZero())
	assert.True(t, v.Wallet().Balance().Equal(dec("95.2")), "got %s", v.Wallet().Balance())
}

func TestSubmitOrderAppliesSlippage(t *testing.T) {
	v := newTestVenue(Config{SlippageBps: dec("50")}, "100")
	ctx := context.Background()

	fill, err := v.SubmitOrder(ctx, buy("tok-1", "0.40", "10"))
	require.NoError(t, err)
	// 0.40 * 50bps = 0.002 against the buyer.
	assert.True(t, fill.FillPrice.Equal(dec("0.402")), "got %s", fill.FillPrice)

	sell := domain.OrderRequest{
		ClientID: "client-2",
		TokenID:  "tok-1",
		Side:     domain.OrderSideSell,
		Price:    dec("0.40"),
		Quantity: dec("10"),
		Type:     domain.OrderTypeFOK,
	}
	fill, err = v.SubmitOrder(ctx, sell)
	require.NoError(t, err)
	assert.True(t, fill.FillPrice.Equal(dec("0.398")), "got %s", fill.FillPrice)
}

func TestSubmitOrderChargesTakerFee(t *testing.T) {
	v := newTestVenue(Config{TakerFeeRate: dec("0.02")}, "100")

	// Fee base is the cheaper side: at 0.90 that is the 0.10 complement.
	fill, err := v.SubmitOrder(context.Background(), buy("tok-1", "0.90", "10"))
	require.NoError(t, err)
	assert.True(t, fill.FeePaid.Equal(dec("0.02")), "got %s", fill.FeePaid)
	assert.True(t, v.Wallet().Balance().Equal(dec("90.98")), "got %s", v.Wallet().Balance())
}

func TestSubmitOrderRejectsOverdraft(t *testing.T) {
	v := newTestVenue(Config{}, "3")

	_, err := v.SubmitOrder(context.Background(), buy("tok-1", "0.50", "10"))
	require.Error(t, err)

	var rejection *domain.VenueRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, domain.VenueErrInsufficientFunds, rejection.Code)
	assert.True(t, v.Wallet().Balance().Equal(dec("3")), "rejected order must not move cash")
}

func TestSellCreditsWallet(t *testing.T) {
	v := newTestVenue(Config{}, "10")

	req := domain.OrderRequest{
		ClientID: "client-1",
		TokenID:  "tok-1",
		Side:     domain.OrderSideSell,
		Price:    dec("0.60"),
		Quantity: dec("5"),
		Type:     domain.OrderTypeFOK,
	}
	fill, err := v.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, fill.FilledSize.Equal(dec("5")))
	assert.True(t, v.Wallet().Balance().Equal(dec("13")))
}

func TestRedeemPaysOneDollarPerShare(t *testing.T) {
	v := newTestVenue(Config{}, "0")

	settle, err := v.Redeem(context.Background(), domain.Position{
		ID:       7,
		TokenID:  "tok-1",
		Quantity: dec("10"),
		Status:   domain.PositionStatusRedeemable,
	})
	require.NoError(t, err)
	assert.True(t, settle.PaidAmount.Equal(dec("10")))
	assert.NotEmpty(t, settle.TxID)
	assert.True(t, v.Wallet().Balance().Equal(dec("10")))
}

func TestWalletReset(t *testing.T) {
	w := NewWallet(dec("250"))
	require.NoError(t, w.Debit(dec("100")))
	w.Credit(dec("30"))
	require.True(t, w.Balance().Equal(dec("180")))

	w.Reset()
	assert.True(t, w.Balance().Equal(dec("250")))
}

func TestOrderIDsAreSequential(t *testing.T) {
	v := newTestVenue(Config{}, "100")
	ctx := context.Background()

	first, err := v.SubmitOrder(ctx, buy("tok-1", "0.10", "1"))
	require.NoError(t, err)
	second, err := v.SubmitOrder(ctx, buy("tok-1", "0.10", "1"))
	require.NoError(t, err)

	assert.Equal(t, "paper-1", first.OrderID)
	assert.Equal(t, "paper-2", second.OrderID)
}
