package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litreview/internal/config"
)

type fakeStore struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStore) EnsureBucket(_ context.Context, bucket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, ct string) error {
	if f.failOn != "" && strings.HasSuffix(key, f.failOn) {
		return errors.New("boom")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	f.types[key] = ct
	return nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
	}
}

func TestPublishDir(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"screening_decisions.jsonl": "{}\n",
		"prisma.svg":                "<svg/>",
		"qa/qa_report.json":         "{}",
	})

	store := newFakeStore()
	p := NewPublisher(store, "review", "litrev")
	p.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	m, err := p.Dir(context.Background(), dir, "")
	require.NoError(t, err)

	assert.True(t, store.buckets["review"])
	assert.Equal(t, "litrev/20250301T120000Z", m.Prefix)
	require.Len(t, m.Objects, 3)
	assert.Equal(t, "litrev/20250301T120000Z/prisma.svg", m.Objects[0].Key)
	assert.Equal(t, "litrev/20250301T120000Z/qa/qa_report.json", m.Objects[1].Key)
	assert.Equal(t, "image/svg+xml", store.types["litrev/20250301T120000Z/prisma.svg"])
	assert.Equal(t, "application/x-ndjson", store.types["litrev/20250301T120000Z/screening_decisions.jsonl"])

	raw, ok := store.objects["review/litrev/20250301T120000Z/"+ManifestFile]
	require.True(t, ok, "manifest uploaded")
	var back Manifest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, m.Objects, back.Objects)
	assert.Equal(t, "2025-03-01T12:00:00Z", back.PublishedAt)
}

func TestPublishNamedRun(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.csv": "x"})
	store := newFakeStore()

	m, err := NewPublisher(store, "review", "").Dir(context.Background(), dir, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1/a.csv", m.Objects[0].Key)
	assert.Equal(t, []byte("x"), store.objects["review/run-1/a.csv"])
}

func TestPublishErrors(t *testing.T) {
	_, err := NewPublisher(newFakeStore(), "b", "p").Dir(context.Background(), t.TempDir(), "x")
	assert.Error(t, err, "empty dir")

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.csv": "x", "b.csv": "y"})
	store := newFakeStore()
	store.failOn = "b.csv"
	_, err = NewPublisher(store, "b", "p").Dir(context.Background(), dir, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.csv")
	_, ok := store.objects["b/p/x/"+ManifestFile]
	assert.False(t, ok, "no manifest after a failed upload")
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(config.PublishConfig{})
	assert.True(t, errors.Is(err, ErrNotConfigured))

	p, err := New(config.PublishConfig{Endpoint: "localhost:9000", Bucket: "review", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, "review", p.bucket)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", contentType("x.csv"))
	assert.Equal(t, "application/vnd.apache.parquet", contentType("effect_sizes.parquet"))
	assert.Equal(t, "application/octet-stream", contentType("LICENSE"))
}
