// Package archive implements the backup archive format: a gzip-compressed
// tar file whose single top-level directory is the archive name, holding
// credentials/ and config/ subtrees plus a manifest.
package archive

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/flowops/n8nbak/internal/model"
)

var (
	// ErrCorruptArchive means a freshly created archive failed its
	// self-check and has been deleted.
	ErrCorruptArchive = errors.New("archive failed post-creation verification")
	// ErrInvalidArchive means a restore source is not a readable tar.gz.
	ErrInvalidArchive = errors.New("not a valid backup archive")
	// ErrExtraction means unpacking failed part-way.
	ErrExtraction = errors.New("archive extraction failed")
	// ErrAmbiguousBackup means an extracted tree does not contain exactly
	// one database payload.
	ErrAmbiguousBackup = errors.New("backup contains zero or multiple database payloads")
)

// Create compresses the staging directory into destPath and verifies the
// result by reading it back in full. On verification failure the partial
// archive is deleted; an archive file either exists and is good, or does
// not exist. The staging directory is removed on success and on verified
// failure, matching the one-shot pipeline contract.
func Create(stagingDir, destPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}

	if err := writeTarGz(stagingDir, destPath); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("write archive: %w", err)
	}

	if err := readAll(destPath); err != nil {
		os.Remove(destPath)
		os.RemoveAll(stagingDir)
		return 0, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}

	os.RemoveAll(stagingDir)
	return info.Size(), nil
}

// Validate confirms the file at path is a fully readable archive. Used by
// the restorer before any extraction is attempted.
func Validate(path string) error {
	if err := readAll(path); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	return nil
}

// List returns the entry paths inside the archive.
func List(path string) ([]string, error) {
	var entries []string
	err := walk(path, func(hdr *tar.Header, r io.Reader) error {
		entries = append(entries, hdr.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return entries, nil
}

// Extract unpacks the archive into destDir. Entries escaping destDir are
// rejected. On any failure the partially extracted tree is removed and the
// underlying diagnostic is preserved in the returned error.
func Extract(path, destDir string) error {
	err := walk(path, func(hdr *tar.Header, r io.Reader) error {
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, r); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		default:
			// Symlinks and device nodes have no business in a backup.
			return fmt.Errorf("unsupported entry type %d for %s", hdr.Typeflag, hdr.Name)
		}
	})
	if err != nil {
		os.RemoveAll(destDir)
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return nil
}

// Classify inspects an extracted archive root and determines the database
// kind from its payload. Exactly one of the SQLite file or the SQL dump
// must be present. When a manifest exists it must agree with the payload.
func Classify(root string) (model.DatabaseKind, error) {
	hasSQLite := fileExists(filepath.Join(root, filepath.FromSlash(model.SQLitePayload)))
	hasDump := fileExists(filepath.Join(root, filepath.FromSlash(model.PostgresPayload)))

	var kind model.DatabaseKind
	switch {
	case hasSQLite && hasDump:
		return "", fmt.Errorf("%w: found both %s and %s", ErrAmbiguousBackup, model.SQLitePayload, model.PostgresPayload)
	case hasSQLite:
		kind = model.DatabaseSQLite
	case hasDump:
		kind = model.DatabasePostgres
	default:
		return "", fmt.Errorf("%w: found neither %s nor %s", ErrAmbiguousBackup, model.SQLitePayload, model.PostgresPayload)
	}

	manifest, err := ReadManifest(root)
	if err == nil && manifest.DatabaseKind != kind {
		return "", fmt.Errorf("%w: manifest says %s but payload is %s", ErrAmbiguousBackup, manifest.DatabaseKind, kind)
	}

	return kind, nil
}

// ReadManifest loads the manifest from an extracted archive root.
func ReadManifest(root string) (*model.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, model.ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Root returns the single top-level directory name inside the archive,
// which by construction equals the archive name.
func Root(entries []string) (string, error) {
	roots := map[string]bool{}
	for _, e := range entries {
		top := strings.SplitN(filepath.ToSlash(e), "/", 2)[0]
		if top != "" && top != "." {
			roots[top] = true
		}
	}
	if len(roots) != 1 {
		return "", fmt.Errorf("%w: expected one top-level directory, found %d", ErrInvalidArchive, len(roots))
	}
	for r := range roots {
		return r, nil
	}
	return "", ErrInvalidArchive
}

func writeTarGz(srcDir, destPath string) error {
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

// walk iterates every entry of the archive, streaming regular file bodies
// through fn.
func walk(path string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("gzip open: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tar read: %w", err)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// readAll decompresses and reads every byte of every entry, so truncated or
// bit-rotted archives are caught before they are trusted.
func readAll(path string) error {
	return walk(path, func(hdr *tar.Header, r io.Reader) error {
		_, err := io.Copy(io.Discard, r)
		return err
	})
}

func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %s escapes extraction directory", name)
	}
	return target, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
