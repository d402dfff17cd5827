// Package archive uploads rotated event logs to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"

	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/eventlog"
	"github.com/doananhminh-dev/Class-calm/internal/types"
	"github.com/doananhminh-dev/Class-calm/internal/util"
)

// uploadTimeout bounds a single object upload.
const uploadTimeout = 30000 * time.Millisecond

// ErrNotConfigured is returned when the bucket settings are incomplete.
var ErrNotConfigured = errors.New("S3 is not configured")

// ObjectStore is the subset of the S3 client used for archiving.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewS3Client creates an S3 client with static credentials.
// A custom endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(cfg *types.S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Credentials = creds
		o.Region = "auto"
		if cfg.Region != "" {
			o.Region = cfg.Region
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
}

func isConfigured(cfg *types.S3Config) bool {
	return util.IsConfigured(cfg.Bucket, cfg.AccessKeyID, cfg.SecretAccessKey)
}

// TestConnection uploads and deletes a small object to verify the bucket settings.
func TestConnection(ctx context.Context, cfg *types.S3Config) error {
	if !isConfigured(cfg) {
		return ErrNotConfigured
	}
	return testConnection(ctx, NewS3Client(cfg), cfg)
}

func testConnection(ctx context.Context, store ObjectStore, cfg *types.S3Config) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	testKey := path.Join(cfg.Prefix, fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano()))
	testContent := []byte("Class Calm connection test")

	_, err := store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return util.WrapError("upload test file", err)
	}

	_, err = store.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}

// Archiver periodically rotates the event log and uploads rotated files.
type Archiver struct {
	cfg      *config.Config
	events   *eventlog.Logger
	newStore func(*types.S3Config) ObjectStore
	now      func() time.Time
}

// New creates an archiver for the event log.
func New(cfg *config.Config, events *eventlog.Logger) *Archiver {
	return &Archiver{
		cfg:      cfg,
		events:   events,
		newStore: func(c *types.S3Config) ObjectStore { return NewS3Client(c) },
		now:      time.Now,
	}
}

// Run archives on the configured interval until ctx is cancelled.
// Settings are re-read on each tick so changes apply without a restart.
func (a *Archiver) Run(ctx context.Context) {
	for {
		interval := time.Duration(a.cfg.Snapshot().Archive.IntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = config.DefaultArchiveInterval * time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		snap := a.cfg.Snapshot()
		if !snap.HasArchive() {
			continue
		}
		n, err := a.ArchiveNow(ctx)
		if err != nil {
			slog.Error("event log archive failed", "uploaded", n, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("event log archived", "files", n, "bucket", snap.Archive.S3.Bucket)
		}
	}
}

// ArchiveNow rotates the event log and uploads every rotated file, removing
// each local copy after a successful upload. Files that fail stay for the next run.
func (a *Archiver) ArchiveNow(ctx context.Context) (int, error) {
	s3cfg := a.cfg.Snapshot().Archive.S3
	if !isConfigured(&s3cfg) {
		return 0, ErrNotConfigured
	}

	if _, err := a.events.Rotate(a.now()); err != nil {
		return 0, util.WrapError("rotate event log", err)
	}

	files, err := a.events.Rotated()
	if err != nil {
		return 0, util.WrapError("list rotated logs", err)
	}

	store := a.newStore(&s3cfg)
	var (
		uploaded int
		errs     []error
	)
	for _, file := range files {
		if err := a.upload(ctx, store, &s3cfg, file); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(file); err != nil {
			slog.Warn("failed to remove archived log", "path", file, "error", err)
		}
		uploaded++
	}

	return uploaded, errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, store ObjectStore, cfg *types.S3Config, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return util.WrapError("read "+filepath.Base(file), err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	key := path.Join(cfg.Prefix, filepath.Base(file)+".jsonl")
	_, err = store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return util.WrapError("upload "+key, err)
	}
	slog.Info("event log archived", "key", key, "size", humanize.Bytes(uint64(len(data))))
	return nil
}
