package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openpredict/tradebot/internal/domain"
)

// PositionsChannel is the signal bus channel the position manager publishes
// lifecycle events on.
const PositionsChannel = "positions"

// EventBridge relays lifecycle events from the signal bus to the configured
// notification channels. It runs as its own goroutine next to the trading
// loops so a slow Telegram call never blocks an order.
type EventBridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewEventBridge wires a bridge between bus and notifier.
func NewEventBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *EventBridge {
	return &EventBridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_bridge")),
	}
}

// Run subscribes to the positions channel and forwards events until the
// context is cancelled or the bus closes the subscription.
func (b *EventBridge) Run(ctx context.Context) error {
	ch, err := b.bus.Subscribe(ctx, PositionsChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", PositionsChannel, err)
	}
	b.logger.InfoContext(ctx, "event bridge started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(ctx, payload)
		}
	}
}

func (b *EventBridge) handle(ctx context.Context, payload []byte) {
	var detail map[string]any
	if err := json.Unmarshal(payload, &detail); err != nil {
		b.logger.WarnContext(ctx, "malformed event payload dropped",
			slog.String("error", err.Error()),
		)
		return
	}
	event, _ := detail["event"].(string)
	if event == "" {
		return
	}

	title, message := render(event, detail)
	if err := b.notifier.Notify(ctx, event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// render turns a raw event payload into operator-readable text.
func render(event string, detail map[string]any) (title, message string) {
	switch event {
	case "position_opened":
		title = "Position opened"
		message = fmt.Sprintf("#%v %v on %v\nentry %v x %v",
			detail["position_id"], detail["strategy"], detail["condition"],
			detail["entry_price"], detail["quantity"])
	case "position_closed":
		title = "Position closed"
		message = fmt.Sprintf("#%v %v\nexit %v, realized P&L %v",
			detail["position_id"], detail["strategy"],
			detail["exit_price"], detail["realized_pnl"])
	case "position_redeemable":
		title = "Position won, awaiting redemption"
		message = fmt.Sprintf("#%v settles at $1 x %v",
			detail["position_id"], detail["quantity"])
	default:
		title = event
		compact, _ := json.Marshal(detail)
		message = string(compact)
	}
	return title, message
}
