package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicbook/internal/config"
)

const snapshotPrefix = "clinicbook_"

// SnapshotService periodically writes consistent copies of the live database
// with VACUUM INTO and prunes copies older than the retention window.
type SnapshotService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSnapshotService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *SnapshotService {
	l := logger.With().Str("component", "snapshots").Logger()
	return &SnapshotService{db: db, config: cfg, logger: &l, now: time.Now}
}

// Start blocks until ctx is done.
func (s *SnapshotService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Database snapshots are disabled")
		return
	}

	s.logger.Info().Dur("interval", s.config.Interval).Msg("Database snapshots started")

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Snapshot(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Snapshot failed")
		}
		s.Prune()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Snapshot writes a new copy and returns its path.
func (s *SnapshotService) Snapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	name := snapshotPrefix + s.now().UTC().Format("20060102_150405") + ".db"
	path := filepath.Join(s.config.StoragePath, name)

	// VACUUM INTO does not accept bound parameters
	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(path, "'", "''"))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return "", storeErr("vacuum into", err)
	}

	s.logger.Info().Str("path", path).Msg("Snapshot written")
	return path, nil
}

// Prune removes snapshots older than the retention window and returns how many it removed.
func (s *SnapshotService) Prune() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read snapshot directory")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), snapshotPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, e.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", e.Name()).Msg("Failed to remove old snapshot")
			continue
		}
		removed++
	}
	return removed
}
