// Package storage writes JSON artefacts such as sweep reports to Cloud Storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

type openFunc func(ctx context.Context, bucket, object string) io.WriteCloser

// JSONWriter uploads JSON documents into a single bucket.
type JSONWriter struct {
	bucket string
	open   openFunc
}

// NewJSONWriter binds a writer to bucket using client.
func NewJSONWriter(client *gcs.Client, bucket string) (*JSONWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return newJSONWriter(bucket, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/json"
		w.CacheControl = "no-store"
		return w
	})
}

func newJSONWriter(bucket string, open openFunc) (*JSONWriter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &JSONWriter{bucket: bucket, open: open}, nil
}

// WriteJSON encodes payload to object and returns its gs:// URI. The object is only committed
// when Close succeeds.
func (w *JSONWriter) WriteJSON(ctx context.Context, object string, payload any) (string, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errors.New("storage: object name is required")
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: encode %s: %w", object, err)
	}
	ow := w.open(ctx, w.bucket, object)
	if _, err := ow.Write(data); err != nil {
		_ = ow.Close()
		return "", fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := ow.Close(); err != nil {
		return "", fmt.Errorf("storage: commit %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}
