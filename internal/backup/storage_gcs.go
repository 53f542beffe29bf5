package backup

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"acore-backup/internal/errors"
)

// GCSMirror copies dumps to a Google Cloud Storage bucket
type GCSMirror struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSMirror creates a GCS mirror
func NewGCSMirror(ctx context.Context, config GCSConfig, prefix string) (*GCSMirror, error) {
	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.NewTransientIOError("failed to create GCS client", err)
	}

	return &GCSMirror{
		client:     client,
		bucketName: config.Bucket,
		prefix:     prefix,
	}, nil
}

// Name identifies the mirror in logs
func (m *GCSMirror) Name() string {
	return fmt.Sprintf("gs://%s/%s", m.bucketName, m.prefix)
}

// Upload streams a dump file to the bucket
func (m *GCSMirror) Upload(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return errors.WrapError(err, "failed to open dump for upload")
	}
	defer file.Close()

	w := m.client.Bucket(m.bucketName).Object(m.prefix + key).NewWriter(ctx)
	w.ContentType = "application/sql"
	w.ContentEncoding = "gzip"

	if _, err := io.Copy(w, file); err != nil {
		w.Close()
		return errors.NewTransientIOError(fmt.Sprintf("failed to write %s to GCS", key), err)
	}
	if err := w.Close(); err != nil {
		return errors.NewTransientIOError(fmt.Sprintf("failed to upload %s to GCS", key), err)
	}
	return nil
}
