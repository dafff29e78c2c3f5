package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
)

// S3Store keeps archives under a prefix in an S3-compatible bucket.
type S3Store struct {
	cfg    config.S3Config
	folder string
	logger zerolog.Logger
	now    func() time.Time
}

// NewS3Store creates an S3-backed store.
func NewS3Store(cfg config.S3Config, folder string, logger zerolog.Logger) *S3Store {
	return &S3Store{
		cfg:    cfg,
		folder: folder,
		logger: logger.With().Str("component", "s3-store").Logger(),
		now:    time.Now,
	}
}

// client returns an S3 client for the configured endpoint. Path-style
// addressing keeps self-hosted S3 (MinIO, Ceph RGW) working.
func (s *S3Store) client() *s3.Client {
	opts := s3.Options{
		Region:       s.cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if s.cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(s.cfg.Endpoint)
	}
	return s3.New(opts)
}

func (s *S3Store) key(name string) string {
	if s.folder == "" {
		return name
	}
	return path.Join(s.folder, name)
}

// List returns archive objects under the folder, newest first.
func (s *S3Store) List(ctx context.Context) ([]Object, error) {
	client := s.client()
	prefix := ""
	if s.folder != "" {
		prefix = s.folder + "/"
	}

	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			o := Object{Name: path.Base(aws.ToString(obj.Key))}
			if obj.Size != nil {
				o.SizeBytes = *obj.Size
			}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			objects = append(objects, o)
		}
	}

	objects = keepArchives(objects)
	sortNewestFirst(objects)
	return objects, nil
}

// Upload puts a local archive into the bucket under the folder prefix.
func (s *S3Store) Upload(ctx context.Context, localPath string) error {
	name := path.Base(strings.ReplaceAll(localPath, "\\", "/"))
	s.logger.Info().Str("bucket", s.cfg.Bucket).Str("key", s.key(name)).Msg("uploading archive")

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open archive for upload: %w", err)
	}
	defer f.Close()

	_, err = s.client().PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

// Download fetches a named archive into destPath.
func (s *S3Store) Download(ctx context.Context, name, destPath string) error {
	out, err := s.client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer out.Body.Close()

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if _, err := f.ReadFrom(out.Body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return f.Close()
}

// DeleteOlderThan removes archives whose LastModified is older than age.
// Each failed delete is logged and skipped; remote retention is never
// allowed to fail the run.
func (s *S3Store) DeleteOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	objects, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-age)
	client := s.client()
	var deleted []string
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(s.key(obj.Name)),
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("key", s.key(obj.Name)).Msg("delete failed")
			continue
		}
		deleted = append(deleted, obj.Name)
	}
	return deleted, nil
}
