package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openpredict/tradebot/internal/domain"
)

// LedgerArchiver periodically snapshots the position ledger and recent audit
// history to blob storage. The primary store is never mutated here; archives
// are an off-box copy for later analysis, not a retention mechanism.
type LedgerArchiver struct {
	writer domain.BlobWriter
	repo   domain.PositionRepository
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

// NewLedgerArchiver creates an archiver writing under prefix (e.g.
// "tradebot"). audit may be nil when no audit store is configured.
func NewLedgerArchiver(
	writer domain.BlobWriter,
	repo domain.PositionRepository,
	audit domain.AuditStore,
	prefix string,
	logger *slog.Logger,
) *LedgerArchiver {
	if prefix == "" {
		prefix = "tradebot"
	}
	return &LedgerArchiver{
		writer: writer,
		repo:   repo,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "ledger_archiver")),
	}
}

// Run archives on the given interval until the context is cancelled.
func (a *LedgerArchiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ArchiveOnce uploads one ledger snapshot and, when an audit store is wired,
// one audit snapshot. Keys are date-partitioned so a bucket listing reads
// chronologically.
func (a *LedgerArchiver) ArchiveOnce(ctx context.Context) error {
	now := time.Now().UTC()

	set, err := a.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("s3blob: load ledger: %w", err)
	}
	body, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: encode ledger: %w", err)
	}

	key := a.key("ledger", now)
	if err := a.writer.Put(ctx, key, body, "application/json"); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "ledger archived",
		slog.String("key", key),
		slog.Int("positions", len(set.Positions)))

	if a.audit == nil {
		return nil
	}

	entries, err := a.audit.List(ctx, 1000)
	if err != nil {
		return fmt.Errorf("s3blob: list audit entries: %w", err)
	}
	auditBody, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("s3blob: encode audit entries: %w", err)
	}
	return a.writer.Put(ctx, a.key("audit", now), auditBody, "application/json")
}

func (a *LedgerArchiver) key(kind string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s-%d.json",
		a.prefix, kind, now.Format("2006/01/02"), kind, now.UnixNano())
}
