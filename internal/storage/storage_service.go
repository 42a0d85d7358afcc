// Package storage provides the S3/MinIO blob store adapter for attachment
// content. Objects are keyed {emailID}/{attachmentID}; no other access
// pattern is used.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/driftmail/driftmail/internal/config"
)

// Storage errors
var (
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectKey builds the blob key for an attachment
func ObjectKey(emailID, attachmentID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", emailID, attachmentID)
}

// Object is a blob returned by Get
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// StorageService handles S3/MinIO operations for attachment blobs
type StorageService struct {
	client *s3.Client
	bucket string
}

// NewStorageService creates a new storage service with an S3/MinIO client
func NewStorageService(cfg *config.StorageConfig) (*StorageService, error) {
	var endpointURL string
	if strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://") {
		endpointURL = cfg.Endpoint
	} else {
		protocol := "http"
		if cfg.UseSSL {
			protocol = "https"
		}
		endpointURL = protocol + "://" + cfg.Endpoint
	}

	client := s3.New(s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		BaseEndpoint: aws.String(endpointURL),
		UsePathStyle: true, // Required for MinIO
	})

	return &StorageService{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Put stores a blob under the given key. The original filename travels as the
// content disposition so downloads keep it without a metadata round trip.
func (s *StorageService) Put(ctx context.Context, key string, content []byte, contentType, filename string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(content),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", filename)),
		ContentLength:      aws.Int64(int64(len(content))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get retrieves a blob by key. Returns ErrObjectNotFound when the key is
// absent; the caller owns closing the body.
func (s *StorageService) Get(ctx context.Context, key string) (*Object, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	obj := &Object{Body: output.Body}
	if output.ContentType != nil {
		obj.ContentType = *output.ContentType
	}
	if output.ContentLength != nil {
		obj.Size = *output.ContentLength
	}

	return obj, nil
}

// DeleteMany deletes blobs in batches (S3 caps DeleteObjects at 1000 keys).
// Deletion is best-effort per key: per-key errors reported by the store do
// not stop the remaining batches. Returns the count of confirmed deletions.
func (s *StorageService) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	objectIdentifiers := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objectIdentifiers[i] = types.ObjectIdentifier{
			Key: aws.String(key),
		}
	}

	deleteCount := 0
	batchSize := 1000

	for i := 0; i < len(objectIdentifiers); i += batchSize {
		end := i + batchSize
		if end > len(objectIdentifiers) {
			end = len(objectIdentifiers)
		}

		batch := objectIdentifiers[i:end]
		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: batch,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleteCount, fmt.Errorf("failed to delete objects: %w", err)
		}

		deleteCount += len(batch) - len(output.Errors)
	}

	return deleteCount, nil
}
