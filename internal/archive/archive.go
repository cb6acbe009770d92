// Package archive keeps a copy of each raw message body in a GCS bucket
// before parsing, so extraction bugs can be replayed against the original
// source. Archiving is optional and its failures never block an import.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// Archiver stores one raw message body and returns its location.
type Archiver interface {
	Save(ctx context.Context, userID, messageID string, body []byte) (string, error)
}

// GCSArchiver writes bodies under {bucket}/{userID}/{messageID}.html using
// Application Default Credentials.
type GCSArchiver struct {
	bucket string
}

var _ Archiver = (*GCSArchiver)(nil)

func NewGCSArchiver(bucket string) *GCSArchiver {
	return &GCSArchiver{bucket: bucket}
}

func (a *GCSArchiver) Save(ctx context.Context, userID, messageID string, body []byte) (string, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", fmt.Errorf("archive: create storage client: %w", err)
	}
	defer client.Close()

	objectName := fmt.Sprintf("%s/%s.html", userID, messageID)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	w := client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize object %s: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}
