package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/batchgate/internal/adaptor"
	"github.com/me/batchgate/internal/jobqueue"
	"github.com/me/batchgate/internal/scheduler"
	"github.com/me/batchgate/internal/store"
)

// openArchive opens the configured job archive, or returns nil if the
// archive is disabled.
func openArchive(ctx context.Context) (store.Store, error) {
	path := cfg.Archive.DBPath
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	logger.Debug("archive ready", "path", path)
	return st, nil
}

// openScheduler builds the configured scheduler. Finished jobs go to st
// when it is not nil.
func openScheduler(ctx context.Context, st store.Store) (scheduler.Scheduler, error) {
	var archive jobqueue.Archive
	if st != nil {
		archive = st
	}
	s, err := scheduler.Open(ctx, cfg.Scheduler, adaptor.NewDefaultRegistry(logger), archive, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("scheduler ready", "scheduler", s.Name(), "flavor", cfg.Scheduler.Flavor, "location", cfg.Scheduler.Location)
	return s, nil
}
