// Package marketdata supplies the engine with market snapshots, resolution
// events, and live top-of-book prices from the Gamma REST API and the CLOB
// WebSocket feed.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openpredict/tradebot/internal/domain"
)

// GammaConfig configures the REST source.
type GammaConfig struct {
	// BaseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
	BaseURL string

	// PageSize bounds each /markets request. Defaults to 100.
	PageSize int

	// MaxPages bounds pagination per fetch. Defaults to 10.
	MaxPages int

	// MinVolume drops illiquid markets from the snapshot set.
	MinVolume decimal.Decimal

	// Timeout applies per HTTP request. Defaults to 30s.
	Timeout time.Duration
}

// GammaSource fetches market snapshots and resolution events over REST. It
// implements both domain.MarketDataSource and domain.ResolutionSource.
type GammaSource struct {
	cfg        GammaConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGammaSource creates a REST source against the given Gamma API root.
func NewGammaSource(cfg GammaConfig, logger *slog.Logger) *GammaSource {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GammaSource{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(slog.String("component", "gamma_source")),
	}
}

// Snapshots returns the current tradeable market set. Markets without a
// condition id or below the volume floor are dropped.
func (g *GammaSource) Snapshots(ctx context.Context) ([]domain.MarketSnapshot, error) {
	fetchedAt := time.Now().UTC()

	markets, err := g.listMarkets(ctx, url.Values{
		"active": {"true"},
		"closed": {"false"},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: snapshots: %w", err)
	}

	snaps := make([]domain.MarketSnapshot, 0, len(markets))
	for i := range markets {
		m := &markets[i]
		if m.ConditionID == "" {
			continue
		}
		snap := m.toSnapshot(fetchedAt)
		if !g.cfg.MinVolume.IsZero() && snap.Volume.LessThan(g.cfg.MinVolume) {
			continue
		}
		snaps = append(snaps, snap)
	}

	g.logger.DebugContext(ctx, "fetched snapshots",
		slog.Int("markets", len(markets)),
		slog.Int("kept", len(snaps)))
	return snaps, nil
}

// ListResolved returns conditions that resolved at or after since. Any fetch
// failure surfaces as an error so the caller treats the window as unknown
// rather than empty.
func (g *GammaSource) ListResolved(ctx context.Context, since time.Time) ([]domain.ResolutionEvent, error) {
	now := time.Now().UTC()

	markets, err := g.listMarkets(ctx, url.Values{
		"closed": {"true"},
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: list resolved: %w", err)
	}

	var events []domain.ResolutionEvent
	for i := range markets {
		m := &markets[i]
		if m.ConditionID == "" || !m.Closed {
			continue
		}
		resolvedAt := m.resolvedAt(now)
		if resolvedAt.Before(since) {
			continue
		}
		winner := ""
		for _, tok := range m.Tokens {
			if tok.Winner {
				winner = tok.Outcome
				break
			}
		}
		if winner == "" {
			// Closed but not yet reported; it will show up on a later poll.
			continue
		}
		events = append(events, domain.ResolutionEvent{
			ConditionID:    m.ConditionID,
			WinningOutcome: winner,
			ResolvedAt:     resolvedAt,
		})
	}
	return events, nil
}

// listMarkets pages through /markets with the given filters.
func (g *GammaSource) listMarkets(ctx context.Context, filters url.Values) ([]apiMarket, error) {
	var all []apiMarket
	for page := 0; page < g.cfg.MaxPages; page++ {
		params := url.Values{}
		for k, vs := range filters {
			params[k] = vs
		}
		params.Set("limit", strconv.Itoa(g.cfg.PageSize))
		params.Set("offset", strconv.Itoa(page*g.cfg.PageSize))

		body, err := g.doGet(ctx, "/markets?"+params.Encode())
		if err != nil {
			return nil, err
		}

		var batch []apiMarket
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode markets: %w", err)
		}
		all = append(all, batch...)
		if len(batch) < g.cfg.PageSize {
			break
		}
	}
	return all, nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaSource) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ConnectivityError{Op: "gamma get " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ConnectivityError{Op: "gamma read " + path, Err: err}
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
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
