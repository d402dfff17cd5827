package archive

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/doananhminh-dev/Class-calm/internal/config"
	"github.com/doananhminh-dev/Class-calm/internal/eventlog"
	"github.com/doananhminh-dev/Class-calm/internal/types"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return nil, f.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func setup(t *testing.T) (*Archiver, *eventlog.Logger, *fakeStore) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetArchive(config.ArchiveConfig{
		Enabled:         true,
		IntervalMinutes: 60,
		S3: types.S3Config{
			Bucket:          "class-logs",
			Prefix:          "room12",
			AccessKeyID:     "id",
			SecretAccessKey: "secret",
		},
	}))

	events, err := eventlog.NewLogger(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	store := newFakeStore()
	a := New(cfg, events)
	a.newStore = func(*types.S3Config) ObjectStore { return store }
	a.now = func() time.Time { return time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC) }
	return a, events, store
}

func TestArchiveNowUploadsRotatedLog(t *testing.T) {
	a, events, store := setup(t)
	require.NoError(t, events.LogNoise(eventlog.AlertFired, "monitor", time.Now(), 70, 60, 0))

	n, err := a.ArchiveNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	data, ok := store.objects["room12/events.jsonl.20260302T160000Z.jsonl"]
	require.True(t, ok)
	require.Contains(t, string(data), `"alert_fired"`)

	rotated, err := events.Rotated()
	require.NoError(t, err)
	require.Empty(t, rotated)
}

func TestArchiveNowNothingToDo(t *testing.T) {
	a, _, store := setup(t)

	n, err := a.ArchiveNow(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, store.objects)
}

func TestArchiveNowKeepsFailedFiles(t *testing.T) {
	a, events, store := setup(t)
	store.failPut = errors.New("bucket unreachable")
	require.NoError(t, events.LogSession(eventlog.SessionStarted, "monitor", time.Now(), 0, ""))

	n, err := a.ArchiveNow(context.Background())
	require.ErrorContains(t, err, "bucket unreachable")
	require.Zero(t, n)

	rotated, err := events.Rotated()
	require.NoError(t, err)
	require.Len(t, rotated, 1)

	// The next run picks the file up.
	store.failPut = nil
	n, err = a.ArchiveNow(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestTestConnection(t *testing.T) {
	store := newFakeStore()
	cfg := &types.S3Config{Bucket: "b", Prefix: "p", AccessKeyID: "id", SecretAccessKey: "s"}

	require.NoError(t, testConnection(context.Background(), store, cfg))
	require.Len(t, store.deleted, 1)
	require.Empty(t, store.objects)

	require.ErrorIs(t, TestConnection(context.Background(), &types.S3Config{}), ErrNotConfigured)
}
