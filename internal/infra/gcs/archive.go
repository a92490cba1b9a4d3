// Package gcs archives raw source pages to a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dvloznov/bank-download/internal/source"
)

// openFunc opens a writer for one object.
type openFunc func(ctx context.Context, object, contentType string, metadata map[string]string) io.WriteCloser

// Archive writes each page to gs://bucket/prefix/<key><ext>.
type Archive struct {
	bucket string
	prefix string
	client *storage.Client
	open   openFunc
}

// NewArchive creates an Archive for a gs:// URI such as
// gs://my-bucket/bank-download/pages. It assumes Application Default
// Credentials are configured.
func NewArchive(ctx context.Context, uri string) (*Archive, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewArchive: create storage client: %w", err)
	}

	a := &Archive{bucket: bucket, prefix: prefix, client: client}
	a.open = func(ctx context.Context, object, contentType string, metadata map[string]string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.Metadata = metadata
		return w
	}
	return a, nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// ObjectName returns the object a page with key is written to.
func (a *Archive) ObjectName(key string, p source.Page) string {
	return path.Join(a.prefix, key) + p.Extension()
}

// ArchivePage uploads the page bytes.
func (a *Archive) ArchivePage(ctx context.Context, key string, p source.Page) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	object := a.ObjectName(key, p)
	w := a.open(ctx, object, p.ContentType, map[string]string{
		"page_seq": strconv.Itoa(p.Seq),
	})

	if _, err := io.Copy(w, bytes.NewReader(p.Data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("ArchivePage: copy to gs://%s/%s: %w", a.bucket, object, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("ArchivePage: finalize gs://%s/%s: %w", a.bucket, object, err)
	}
	return nil
}

// ParseURI splits gs://bucket/some/prefix into bucket and prefix. The prefix
// may be empty.
func ParseURI(uri string) (bucket, prefix string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}
