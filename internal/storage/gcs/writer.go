// Package gcs writes poem text objects to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Object defaults applied when Config leaves them empty. Poem texts are
// small UTF-8 files that never change once a title is saved.
const (
	DefaultContentType     = "text/plain; charset=utf-8"
	DefaultCacheControl    = "public, max-age=86400"
	DefaultContentLanguage = "zh-CN"
)

// TitleMetadataKey names the custom metadata entry holding the poem title.
const TitleMetadataKey = "poem-title"

// Config captures the bucket and the object attributes written with each poem.
type Config struct {
	Bucket          string
	CacheControl    string
	ContentLanguage string
}

// ObjectWriter uploads poem objects to one bucket.
type ObjectWriter struct {
	client *storage.Client
	bucket string
	cache  string
	lang   string
}

// New creates a GCS-backed writer.
func New(client *storage.Client, cfg Config) (*ObjectWriter, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	w := &ObjectWriter{
		client: client,
		bucket: bucket,
		cache:  cfg.CacheControl,
		lang:   cfg.ContentLanguage,
	}
	if w.cache == "" {
		w.cache = DefaultCacheControl
	}
	if w.lang == "" {
		w.lang = DefaultContentLanguage
	}
	return w, nil
}

// ObjectURI returns the gs:// URI of name in bucket.
func ObjectURI(bucket, name string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(name, "/")
}

// PutObject uploads r as name in a single request and returns its gs:// URI.
// The poem title is taken from the directory part of name.
func (w *ObjectWriter) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("object name is required")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	ow := w.client.Bucket(w.bucket).Object(name).NewWriter(ctx)
	ow.ContentType = contentType
	ow.CacheControl = w.cache
	ow.ContentLanguage = w.lang
	// Poem bodies are a few KB; skip the resumable upload session.
	ow.ChunkSize = 0
	if title := path.Base(path.Dir(name)); title != "." && title != "/" {
		ow.Metadata = map[string]string{TitleMetadataKey: title}
	}

	if _, err := io.Copy(ow, r); err != nil {
		if closeErr := ow.Close(); closeErr != nil {
			return "", fmt.Errorf("write %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := ow.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return ObjectURI(w.bucket, name), nil
}
