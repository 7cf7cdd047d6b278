package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// Exporter writes report snapshots to a Cloud Storage bucket.
type Exporter struct {
	bucket    string
	prefix    string
	newWriter func(ctx context.Context, bucket, object string) io.WriteCloser
}

// NewExporter constructs an Exporter writing under prefix in bucket.
func NewExporter(client *gcs.Client, bucket, prefix string) (*Exporter, error) {
	if client == nil {
		return nil, errors.New("storage exporter: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage exporter: bucket is required")
	}
	return &Exporter{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		newWriter: func(ctx context.Context, bucket, object string) io.WriteCloser {
			w := client.Bucket(bucket).Object(object).NewWriter(ctx)
			w.ContentType = "application/json"
			w.CacheControl = "no-store"
			return w
		},
	}, nil
}

// Export stores data as <prefix>/<yyyy>/<mm>/<dd>/<name>-<timestamp>.json and returns its gs:// URI.
func (e *Exporter) Export(ctx context.Context, name string, generatedAt time.Time, data []byte) (string, error) {
	if e == nil || e.newWriter == nil {
		return "", errors.New("storage exporter: not initialised")
	}
	object, err := ObjectPath(e.prefix, name, generatedAt)
	if err != nil {
		return "", err
	}
	w := e.newWriter(ctx, e.bucket, object)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage exporter: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage exporter: finalise %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", e.bucket, object), nil
}

// ObjectPath builds the object key for a report.
func ObjectPath(prefix, name string, generatedAt time.Time) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("storage: invalid report name %q", name)
	}
	ts := generatedAt.UTC()
	key := fmt.Sprintf("%s/%s-%s.json", ts.Format("2006/01/02"), name, ts.Format("20060102T150405Z"))
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		key = prefix + "/" + key
	}
	return key, nil
}
