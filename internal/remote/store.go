// Package remote abstracts the cloud destination for archives. The surface
// is deliberately tiny: list, upload, download, age-based delete.
package remote

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
	"github.com/flowops/n8nbak/internal/model"
)

// Object is one archive on the remote.
type Object struct {
	Name         string
	SizeBytes    int64
	LastModified time.Time
}

// Store is the remote storage profile. List returns only archive-named
// objects, newest first. All implementations treat the remote as a flat
// folder of archives.
type Store interface {
	List(ctx context.Context) ([]Object, error)
	Upload(ctx context.Context, localPath string) error
	Download(ctx context.Context, name, destPath string) error
	DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error)
}

// New selects a Store implementation from the configured remote profile.
// Returns nil when no remote is configured; the sink is then a no-op.
func New(cfg *config.Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Remote.Kind {
	case "":
		return nil, nil
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("remote kind s3 requires a bucket")
		}
		return NewS3Store(cfg.S3, cfg.Remote.Folder, logger), nil
	case "rclone":
		if cfg.Remote.Name == "" {
			return nil, fmt.Errorf("remote kind rclone requires a remote name")
		}
		return NewRcloneStore(cfg.Remote.Name, cfg.Remote.Folder, logger), nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

// sortNewestFirst orders objects by the timestamp embedded in their name,
// descending. Names sort chronologically by construction, so a plain string
// comparison is enough.
func sortNewestFirst(objects []Object) {
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name > objects[j].Name
	})
}

// keepArchives filters a listing down to objects that look like our
// archives.
func keepArchives(objects []Object) []Object {
	kept := objects[:0]
	for _, o := range objects {
		if model.IsArchiveName(o.Name) {
			kept = append(kept, o)
		}
	}
	return kept
}
