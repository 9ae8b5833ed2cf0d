package clob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpredict/tradebot/internal/crypto"
	"github.com/openpredict/tradebot/internal/domain"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestVenue(t *testing.T, handler http.Handler) *Venue {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	signer, err := crypto.NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	return NewVenue(Config{
		BaseURL:          srv.URL,
		FillPollInterval: time.Millisecond,
		FillPollAttempts: 3,
	}, signer, slog.Default())
}

func buyRequest() domain.OrderRequest {
	return domain.OrderRequest{
		ClientID: "client-1",
		TokenID:  "123456",
		Side:     domain.OrderSideBuy,
		Price:    decimal.RequireFromString("0.48"),
		Quantity: decimal.RequireFromString("10"),
		Type:     domain.OrderTypeFOK,
	}
}

func TestSubmitOrderImmediateMatch(t *testing.T) {
	var posted map[string]any
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		fmt.Fprint(w, `{"success": true, "orderID": "ord-1", "status": "matched"}`)
	}))

	fill, err := v.SubmitOrder(context.Background(), buyRequest())
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.True(t, fill.FilledSize.Equal(decimal.RequireFromString("10")))
	assert.True(t, fill.FillPrice.Equal(decimal.RequireFromString("0.48")))

	assert.Equal(t, "FOK", posted["orderType"])
	order := posted["order"].(map[string]any)
	assert.Equal(t, "BUY", order["side"])
	// 0.48 * 10 USDC and 10 shares in 1e6 fixed point.
	assert.Equal(t, "4800000", order["makerAmount"])
	assert.Equal(t, "10000000", order["takerAmount"])
	assert.NotEmpty(t, order["signature"])
}

func TestSubmitOrderSellSwapsAmounts(t *testing.T) {
	var posted map[string]any
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		fmt.Fprint(w, `{"success": true, "orderID": "ord-2", "status": "matched"}`)
	}))

	req := buyRequest()
	req.Side = domain.OrderSideSell
	req.Type = domain.OrderTypeIOC

	_, err := v.SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "FAK", posted["orderType"], "venue spells IOC as FAK")
	order := posted["order"].(map[string]any)
	assert.Equal(t, "SELL", order["side"])
	assert.Equal(t, "10000000", order["makerAmount"])
	assert.Equal(t, "4800000", order["takerAmount"])
}

func TestSubmitOrderDelayedMatchPollsForFill(t *testing.T) {
	polls := 0
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			fmt.Fprint(w, `{"success": true, "orderID": "ord-3", "status": "delayed"}`)
		default:
			polls++
			if polls < 2 {
				fmt.Fprint(w, `{"id": "ord-3", "status": "live", "size_matched": "0", "price": "0.48"}`)
				return
			}
			fmt.Fprint(w, `{"id": "ord-3", "status": "matched", "size_matched": "10", "price": "0.48"}`)
		}
	}))

	fill, err := v.SubmitOrder(context.Background(), buyRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, polls)
	assert.True(t, fill.FilledSize.Equal(decimal.RequireFromString("10")))
}

func TestSubmitOrderMapsRejections(t *testing.T) {
	cases := []struct {
		errorMsg string
		want     domain.VenueErrorCode
	}{
		{"not enough balance / allowance", domain.VenueErrInsufficientFunds},
		{"order size below minimum", domain.VenueErrBelowMinNotional},
		{"market closed", domain.VenueErrRejected},
	}
	for _, tc := range cases {
		v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"success": false, "errorMsg": %q}`, tc.errorMsg)
		}))

		_, err := v.SubmitOrder(context.Background(), buyRequest())
		require.Error(t, err)

		var rejection *domain.VenueRejection
		require.ErrorAs(t, err, &rejection, tc.errorMsg)
		assert.Equal(t, tc.want, rejection.Code, tc.errorMsg)
	}
}

func TestSubmitOrderRejectsZeroQuantity(t *testing.T) {
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	req := buyRequest()
	req.Quantity = decimal.Zero
	_, err := v.SubmitOrder(context.Background(), req)

	var rejection *domain.VenueRejection
	require.ErrorAs(t, err, &rejection)
}

func TestDeriveAPIKeySetsCredentials(t *testing.T) {
	var sawHeaders http.Header
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/derive-api-key", r.URL.Path)
		sawHeaders = r.Header.Clone()
		fmt.Fprint(w, `{"apiKey": "key-1", "secret": "c2VjcmV0", "passphrase": "pass"}`)
	}))

	require.NoError(t, v.DeriveAPIKey(context.Background()))
	assert.NotEmpty(t, sawHeaders.Get("POLY_ADDRESS"))
	assert.NotEmpty(t, sawHeaders.Get("POLY_SIGNATURE"))
	require.NotNil(t, v.hmacAuth)
	assert.Equal(t, "key-1", v.hmacAuth.Key)
}

func TestAuthenticatedRequestsCarryHMACHeaders(t *testing.T) {
	var orderHeaders http.Header
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/derive-api-key" {
			fmt.Fprint(w, `{"apiKey": "key-1", "secret": "c2VjcmV0", "passphrase": "pass"}`)
			return
		}
		orderHeaders = r.Header.Clone()
		fmt.Fprint(w, `{"success": true, "orderID": "ord-1", "status": "matched"}`)
	}))

	ctx := context.Background()
	require.NoError(t, v.DeriveAPIKey(ctx))
	_, err := v.SubmitOrder(ctx, buyRequest())
	require.NoError(t, err)

	assert.Equal(t, "key-1", orderHeaders.Get("POLY_API_KEY"))
	assert.NotEmpty(t, orderHeaders.Get("POLY_SIGNATURE"))
	assert.NotEmpty(t, orderHeaders.Get("POLY_TIMESTAMP"))
}

func TestRedeemNotWiredLive(t *testing.T) {
	v := newTestVenue(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := v.Redeem(context.Background(), domain.Position{ID: 1, Quantity: decimal.NewFromInt(10)})
	var rejection *domain.VenueRejection
	require.ErrorAs(t, err, &rejection)
}
