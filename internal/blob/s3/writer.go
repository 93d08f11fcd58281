package s3blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Writer implements domain.BlobWriter against the client's default bucket.
// Uploads go through the transfer manager, which switches to multipart for
// large archive batches.
type Writer struct {
	client   *Client
	uploader *manager.Uploader
}

// NewWriter creates a Writer.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client:   c,
		uploader: manager.NewUploader(c.s3),
	}
}

// Write uploads one object.
func (w *Writer) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}
