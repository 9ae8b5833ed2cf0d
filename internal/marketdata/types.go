package marketdata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") because the
// Gamma API sends "active" either way depending on the endpoint.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// apiMarket is a market as returned by the Gamma REST API.
type apiMarket struct {
	ID              string     `json:"id"`
	Question        string     `json:"question"`
	ConditionID     string     `json:"condition_id"`
	Slug            string     `json:"slug"`
	Active          flexBool   `json:"active"`
	Closed          bool       `json:"closed"`
	Volume          string     `json:"volume"`
	NegRisk         bool       `json:"neg_risk"`
	NegRiskMarketID string     `json:"neg_risk_market_id"`
	EndDateISO      string     `json:"end_date_iso"`
	UpdatedAt       string     `json:"updated_at"`
	TakerFeeBps     int64      `json:"taker_base_fee"`
	MakerFeeBps     int64      `json:"maker_base_fee"`
	Tokens          []apiToken `json:"tokens"`
}

// apiToken is one outcome token inside a Gamma market response.
type apiToken struct {
	TokenID string   `json:"token_id"`
	Outcome string   `json:"outcome"`
	Winner  bool     `json:"winner"`
	BestBid *float64 `json:"best_bid,omitempty"`
	BestAsk *float64 `json:"best_ask,omitempty"`
	Volume  string   `json:"volume"`
}

var bpsDivisor = decimal.NewFromInt(10000)

// toSnapshot converts a Gamma market to the engine's snapshot shape. Missing
// bids and asks stay nil; a quote is never fabricated from a stale or absent
// book.
func (m *apiMarket) toSnapshot(fetchedAt time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Resolved:    m.Closed,
		FetchedAt:   fetchedAt,
		Fees: domain.FeeSchedule{
			TakerRate: decimal.NewFromInt(m.TakerFeeBps).Div(bpsDivisor),
			MakerRate: decimal.NewFromInt(m.MakerFeeBps).Div(bpsDivisor),
		},
	}
	if m.NegRisk {
		snap.GroupID = m.NegRiskMarketID
	}
	if v, err := decimal.NewFromString(m.Volume); err == nil {
		snap.Volume = v
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			snap.EndDate = t
		}
	}

	for _, tok := range m.Tokens {
		q := domain.OutcomeQuote{
			TokenID: tok.TokenID,
			Outcome: tok.Outcome,
		}
		if tok.BestBid != nil {
			bid := decimal.NewFromFloat(*tok.BestBid)
			q.BestBid = &bid
		}
		if tok.BestAsk != nil {
			ask := decimal.NewFromFloat(*tok.BestAsk)
			q.BestAsk = &ask
		}
		if v, err := decimal.NewFromString(tok.Volume); err == nil {
			q.Volume = v
		}
		snap.Quotes = append(snap.Quotes, q)

		if m.Closed && tok.Winner {
			snap.WinningOutcome = tok.Outcome
		}
	}
	return snap
}

// resolvedAt parses the market's update timestamp, falling back to now so a
// malformed timestamp cannot hide a resolution.
func (m *apiMarket) resolvedAt(now time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, m.UpdatedAt); err == nil {
		return t
	}
	return now
}

// wsEnvelope is the outer frame of every message on the market data socket.
type wsEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
}

// wsBook is a full top-of-book snapshot frame.
type wsBook struct {
	AssetID string         `json:"asset_id"`
	Bids    []wsPriceLevel `json:"bids"`
	Asks    []wsPriceLevel `json:"asks"`
}

// wsPriceLevel is one side level in a book frame.
type wsPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsCommand is the subscribe/unsubscribe payload.
type wsCommand struct {
	Type   string   `json:"type"`
	Assets []string `json:"assets_ids,omitempty"`
}
