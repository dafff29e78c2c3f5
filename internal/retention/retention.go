// Package retention bounds the archives kept at each location. The two
// policies differ on purpose: local archives are pruned by count, remote
// archives by age. The asymmetry is inherited behavior and kept distinct.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/model"
	"github.com/flowops/n8nbak/internal/remote"
)

// ListLocal returns the local archives in dir, newest first.
func ListLocal(dir string) ([]model.Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var archives []model.Archive
	for _, entry := range entries {
		if entry.IsDir() || !model.IsArchiveName(entry.Name()) {
			continue
		}
		created, err := model.ParseName(entry.Name())
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, model.Archive{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: created,
			SizeBytes: info.Size(),
		})
	}

	// Names sort chronologically, so sort by name descending.
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Name > archives[j].Name
	})
	return archives, nil
}

// PruneLocal keeps the `keep` newest archives in dir and deletes the rest.
// Running it again with no new archives deletes nothing.
func PruneLocal(dir string, keep int, logger zerolog.Logger) ([]model.Archive, error) {
	archives, err := ListLocal(dir)
	if err != nil {
		return nil, err
	}
	if len(archives) <= keep {
		return nil, nil
	}

	var deleted []model.Archive
	for _, a := range archives[keep:] {
		if err := os.Remove(a.Path); err != nil {
			logger.Warn().Err(err).Str("archive", a.Name).Msg("local prune failed")
			continue
		}
		logger.Info().Str("archive", a.Name).Msg("pruned local archive")
		deleted = append(deleted, a)
	}
	return deleted, nil
}

// PruneRemote deletes remote archives older than maxAge. Failures are
// logged and never abort the run; a nil store is a no-op.
func PruneRemote(ctx context.Context, store remote.Store, maxAge time.Duration, logger zerolog.Logger) []string {
	if store == nil {
		return nil
	}
	deleted, err := store.DeleteOlderThan(ctx, maxAge)
	if err != nil {
		logger.Warn().Err(err).Msg("remote prune failed")
		return nil
	}
	for _, name := range deleted {
		logger.Info().Str("archive", name).Msg("pruned remote archive")
	}
	return deleted
}
