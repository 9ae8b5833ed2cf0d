// Package file persists the position ledger as a single JSON document on
// local disk. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn ledger behind.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openpredict/tradebot/internal/domain"
)

// Store implements domain.PositionRepository on a JSON file.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore returns a Store writing to path. The parent directory is created
// if missing.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("file: ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create ledger dir: %w", err)
	}
	return &Store{
		path:   path,
		logger: logger.With(slog.String("component", "file_store")),
	}, nil
}

// Load reads the ledger. A missing file is an empty ledger, not an error.
func (s *Store) Load(ctx context.Context) (domain.PositionRecordSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.InfoContext(ctx, "no ledger file, starting empty", slog.String("path", s.path))
		return domain.PositionRecordSet{NextPositionID: 1}, nil
	}
	if err != nil {
		return domain.PositionRecordSet{}, fmt.Errorf("file: read ledger: %w", err)
	}

	var set domain.PositionRecordSet
	if err := json.Unmarshal(data, &set); err != nil {
		return domain.PositionRecordSet{}, fmt.Errorf("file: decode ledger %s: %w", s.path, err)
	}
	if set.NextPositionID < 1 {
		set.NextPositionID = 1
	}
	return set, nil
}

// Save writes the full ledger atomically.
func (s *Store) Save(ctx context.Context, set domain.PositionRecordSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode ledger: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file: write ledger temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("file: replace ledger: %w", err)
	}
	_ = ctx
	return nil
}

// Reset removes the ledger file so the next Load starts empty. Used by the
// clean-restart flag.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: reset ledger: %w", err)
	}
	s.logger.WarnContext(ctx, "ledger reset", slog.String("path", s.path))
	return nil
}
