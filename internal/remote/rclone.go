package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// RcloneStore shells out to the rclone CLI against a pre-authorized remote
// profile (e.g. a Google Drive remote named at install time).
type RcloneStore struct {
	remote string
	folder string
	logger zerolog.Logger
	now    func() time.Time
	// run is swappable in tests so no real rclone binary is needed.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewRcloneStore creates an rclone-backed store.
func NewRcloneStore(remote, folder string, logger zerolog.Logger) *RcloneStore {
	s := &RcloneStore{
		remote: remote,
		folder: folder,
		logger: logger.With().Str("component", "rclone-store").Logger(),
		now:    time.Now,
	}
	s.run = s.execRclone
	return s
}

func (s *RcloneStore) execRclone(ctx context.Context, args ...string) ([]byte, error) {
	s.logger.Debug().Strs("args", args).Msg("executing rclone")
	cmd := exec.CommandContext(ctx, "rclone", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("rclone %s failed: %w: %s", args[0], err, string(output))
	}
	return output, nil
}

func (s *RcloneStore) target(name string) string {
	return s.remote + ":" + path.Join(s.folder, name)
}

// rcloneEntry is one item of `rclone lsjson` output.
type rcloneEntry struct {
	Name    string    `json:"Name"`
	Size    int64     `json:"Size"`
	ModTime time.Time `json:"ModTime"`
	IsDir   bool      `json:"IsDir"`
}

func parseLsjson(data []byte) ([]Object, error) {
	var entries []rcloneEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse rclone lsjson output: %w", err)
	}
	var objects []Object
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		objects = append(objects, Object{Name: e.Name, SizeBytes: e.Size, LastModified: e.ModTime})
	}
	return objects, nil
}

// List returns archives in the remote folder, newest first.
func (s *RcloneStore) List(ctx context.Context) ([]Object, error) {
	output, err := s.run(ctx, "lsjson", s.target(""))
	if err != nil {
		return nil, err
	}
	objects, err := parseLsjson(output)
	if err != nil {
		return nil, err
	}
	objects = keepArchives(objects)
	sortNewestFirst(objects)
	return objects, nil
}

// Upload copies a local archive into the remote folder.
func (s *RcloneStore) Upload(ctx context.Context, localPath string) error {
	name := filepath.Base(localPath)
	s.logger.Info().Str("target", s.target(name)).Msg("uploading archive")
	_, err := s.run(ctx, "copyto", localPath, s.target(name))
	return err
}

// Download copies a named archive from the remote folder to destPath.
func (s *RcloneStore) Download(ctx context.Context, name, destPath string) error {
	_, err := s.run(ctx, "copyto", s.target(name), destPath)
	return err
}

// DeleteOlderThan removes archives older than age, one by one so that a
// single failed delete does not mask the rest.
func (s *RcloneStore) DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	objects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-age)
	var deleted []string
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if _, err := s.run(ctx, "deletefile", s.target(obj.Name)); err != nil {
			s.logger.Warn().Err(err).Str("name", obj.Name).Msg("delete failed")
			continue
		}
		deleted = append(deleted, obj.Name)
	}
	return deleted, nil
}
