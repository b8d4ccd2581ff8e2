// Package minio implements domain.ObjectStorage against a MinIO/S3-compatible
// bucket for persisted avatar and thumbnail images.
package minio

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aperta-labs/bloghound/internal/domain"
)

// Client implements domain.ObjectStorage.
type Client struct {
	mc     *minio.Client
	bucket string
}

// New dials a MinIO client and ensures the target bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("op=minio.New: %w", err)
	}

	exists, err := mc.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("op=minio.New.bucket_exists: %w", err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("op=minio.New.make_bucket: %w", err)
		}
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

// Put uploads data under key and returns the object's URL.
func (c *Client) Put(ctx domain.Context, key string, data []byte, contentType string) (string, error) {
	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("op=minio.Put: %w: %w", err, domain.ErrTransient)
	}
	return c.url(key), nil
}

// Delete removes an object.
func (c *Client) Delete(ctx domain.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("op=minio.Delete: %w: %w", err, domain.ErrTransient)
	}
	return nil
}

// List enumerates object keys under prefix.
func (c *Client) List(ctx domain.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("op=minio.List: %w: %w", obj.Err, domain.ErrTransient)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (c *Client) url(key string) string {
	ep := c.mc.EndpointURL()
	return fmt.Sprintf("%s://%s/%s/%s", ep.Scheme, ep.Host, c.bucket, key)
}
