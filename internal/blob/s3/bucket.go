package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/alanyoungcy/paperbot/internal/domain"
)

// uploadPartSize is the S3 minimum multipart part size. Snapshots and daily
// archives fit in one part; larger archives stream through the uploader.
const uploadPartSize int64 = 5 * 1024 * 1024

// Bucket reads and writes objects in the client's bucket.
type Bucket struct {
	api      *s3.Client
	name     string
	uploader *manager.Uploader
}

var (
	_ domain.BlobWriter  = (*Bucket)(nil)
	_ domain.BlobReader  = (*Bucket)(nil)
	_ domain.BlobDeleter = (*Bucket)(nil)
)

// NewBucket binds a Bucket to c.
func NewBucket(c *Client) *Bucket {
	return &Bucket{
		api:  c.s3,
		name: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = uploadPartSize
			u.Concurrency = 2
		}),
	}
}

// Put uploads data, switching to multipart when it exceeds one part.
func (b *Bucket) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := b.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

// Get opens key for reading. The caller closes the body.
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return out.Body, nil
	case missing(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
}

// List returns every object under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, domain.BlobInfo{
				Path:         aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return out, nil
}

// Delete removes key. S3 treats a missing key as success.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if _, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3blob: delete %s: %w", key, err)
	}
	return nil
}

// missing reports whether err is the provider's not-found answer. MinIO and
// R2 do not always return the typed NoSuchKey error.
func missing(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var statusErr interface{ HTTPStatusCode() int }
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusNotFound
}
