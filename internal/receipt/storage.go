package receipt

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const keyPrefix = "receipts/"

// Storage defines the interface for receipt image storage
type Storage interface {
	// Put writes the image under a freshly generated key and returns the
	// key together with a dereferenceable URL for the object
	Put(ctx context.Context, data []byte, contentType string) (key string, url string, err error)

	// Delete removes the object; a missing object is not an error
	Delete(ctx context.Context, key string) error

	// SignedURL derives a fresh time-limited URL for an existing object
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// MinioStorage implements Storage for MinIO/S3 compatible object stores
type MinioStorage struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
}

// NewMinioStorage connects to the object store and verifies the bucket
// exists, failing fast on misconfiguration.
func NewMinioStorage(endpoint, accessKey, secretKey, bucket string, useSSL bool, urlExpiry time.Duration) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, wrapKind(ErrStoreUnavailable, fmt.Errorf("creating minio client: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, mapStoreErr(fmt.Errorf("checking bucket: %w", err))
	}
	if !exists {
		return nil, wrapKind(ErrStoreUnavailable, fmt.Errorf("bucket %q does not exist", bucket))
	}

	if urlExpiry <= 0 {
		urlExpiry = 7 * 24 * time.Hour // presigned URL maximum
	}

	return &MinioStorage{
		client:    client,
		bucket:    bucket,
		urlExpiry: urlExpiry,
	}, nil
}

// mapStoreErr tags a raw object store error with the matching error kind
func mapStoreErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		return wrapKind(ErrStoreUnavailable, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return wrapKind(ErrStorePermissionDenied, err)
	default:
		return wrapKind(ErrStoreIO, err)
	}
}

// objectKey builds a collision-free key for a new image
func objectKey(contentType string) string {
	return keyPrefix + uuid.NewString() + extForContentType(contentType)
}

// extForContentType picks a filename extension for common image types
func extForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	default:
		return ".img"
	}
}

// deriveObjectKey recovers the store key from an object URL. Used only as a
// fallback for records persisted without an ImagePath.
func deriveObjectKey(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/")
	idx := strings.Index(path, keyPrefix)
	if idx == -1 {
		return ""
	}
	return path[idx:]
}

// Put uploads the image under a new key and returns the key and a presigned URL
func (m *MinioStorage) Put(ctx context.Context, data []byte, contentType string) (string, string, error) {
	key := objectKey(contentType)

	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", "", mapStoreErr(fmt.Errorf("putting object: %w", err))
	}

	objectURL, err := m.SignedURL(ctx, key, m.urlExpiry)
	if err != nil {
		return "", "", err
	}
	return key, objectURL, nil
}

// Delete removes the object; an already-missing object is logged and ignored
// so that metadata deletion can still proceed.
func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			slog.Warn("Object already absent from store", "key", key)
			return nil
		}
		return mapStoreErr(fmt.Errorf("removing object: %w", err))
	}
	return nil
}

// SignedURL derives a fresh presigned GET URL for an existing object
func (m *MinioStorage) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = m.urlExpiry
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", mapStoreErr(fmt.Errorf("presigning object: %w", err))
	}
	return u.String(), nil
}
