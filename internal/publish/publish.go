// Package publish archives a run's output directory to an S3-compatible
// object store.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"

	"litreview/internal/config"
	"litreview/internal/logging"
)

// ManifestFile is written after every other object of a publish.
const ManifestFile = "manifest.json"

// ErrNotConfigured is returned when no endpoint or bucket is set.
var ErrNotConfigured = errors.New("publish endpoint and bucket are not configured")

// ObjectStore is the subset of an S3 client the publisher needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
}

type minioStore struct {
	client *minio.Client
	region string
}

// NewMinioStore connects to the endpoint in cfg.
func NewMinioStore(cfg config.PublishConfig) (ObjectStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &minioStore{client: client, region: cfg.Region}, nil
}

func (s *minioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	logging.Publish("Created bucket %s", bucket)
	return nil
}

func (s *minioStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Object describes one uploaded file.
type Object struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Manifest lists what a publish uploaded.
type Manifest struct {
	Bucket      string   `json:"bucket"`
	Prefix      string   `json:"prefix"`
	PublishedAt string   `json:"published_at"`
	Objects     []Object `json:"objects"`
}

// Publisher uploads output directories under a key prefix.
type Publisher struct {
	store   ObjectStore
	bucket  string
	prefix  string
	workers int
	now     func() time.Time
}

func NewPublisher(store ObjectStore, bucket, prefix string) *Publisher {
	return &Publisher{store: store, bucket: bucket, prefix: prefix, workers: 4, now: time.Now}
}

// New builds a Publisher backed by minio from cfg.
func New(cfg config.PublishConfig) (*Publisher, error) {
	store, err := NewMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewPublisher(store, cfg.Bucket, cfg.Prefix), nil
}

// Dir uploads every regular file under dir to <prefix>/<name>/<relpath>,
// then writes a manifest. An empty name uses the publish timestamp.
func (p *Publisher) Dir(ctx context.Context, dir, name string) (*Manifest, error) {
	timer := logging.StartTimer(logging.CategoryPublish, "Dir")
	defer timer.Stop()

	now := p.now().UTC()
	if name == "" {
		name = now.Format("20060102T150405Z")
	}
	base := path.Join(p.prefix, name)

	var files []string
	err := filepath.WalkDir(dir, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, fp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to publish in %s", dir)
	}

	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		logging.PublishError("Bucket %s unavailable: %v", p.bucket, err)
		return nil, err
	}

	audit := logging.Audit()
	var mu sync.Mutex
	objects := make([]Object, 0, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, fp := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(dir, fp)
			if err != nil {
				return err
			}
			obj, err := p.putFile(gctx, fp, path.Join(base, filepath.ToSlash(rel)))
			audit.Publish(obj.Key, obj.Size, err)
			if err != nil {
				logging.PublishError("Upload %s failed: %v", obj.Key, err)
				return fmt.Errorf("upload %s: %w", rel, err)
			}
			mu.Lock()
			objects = append(objects, obj)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	m := &Manifest{
		Bucket:      p.bucket,
		Prefix:      base,
		PublishedAt: now.Format(time.RFC3339),
		Objects:     objects,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	key := path.Join(base, ManifestFile)
	err = p.store.PutObject(ctx, p.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json")
	audit.Publish(key, int64(len(data)), err)
	if err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	logging.Publish("Published %d files to %s/%s", len(objects), p.bucket, base)
	return m, nil
}

func (p *Publisher) putFile(ctx context.Context, fp, key string) (Object, error) {
	obj := Object{Key: key, ContentType: contentType(fp)}
	f, err := os.Open(fp)
	if err != nil {
		return obj, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return obj, err
	}
	obj.Size = info.Size()
	return obj, p.store.PutObject(ctx, p.bucket, key, f, obj.Size, obj.ContentType)
}

var contentTypes = map[string]string{
	".jsonl":   "application/x-ndjson",
	".parquet": "application/vnd.apache.parquet",
	".csv":     "text/csv",
	".svg":     "image/svg+xml",
	".dot":     "text/vnd.graphviz",
	".json":    "application/json",
}

func contentType(name string) string {
	ext := filepath.Ext(name)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
