package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStore keeps objects in an Alibaba Cloud OSS bucket under a key prefix.
type OSSStore struct {
	bucket *oss.Bucket
	prefix string
}

// OSSOptions configures an OSSStore.
type OSSOptions struct {
	Endpoint        string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	AccessKeySecret string
}

// NewOSSStore opens the configured bucket.
func NewOSSStore(opts OSSOptions) (*OSSStore, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	bucketName := strings.TrimSpace(opts.Bucket)
	if endpoint == "" || bucketName == "" {
		return nil, errors.New("storage: oss endpoint and bucket are required")
	}
	client, err := oss.New(endpoint, strings.TrimSpace(opts.AccessKeyID), strings.TrimSpace(opts.AccessKeySecret))
	if err != nil {
		return nil, fmt.Errorf("storage: init oss client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("storage: open oss bucket: %w", err)
	}
	return &OSSStore{bucket: bucket, prefix: strings.Trim(strings.TrimSpace(opts.Prefix), "/")}, nil
}

func (s *OSSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	objectKey, err := s.objectKey(ctx, key)
	if err != nil {
		return err
	}
	var opts []oss.Option
	if ct := strings.TrimSpace(contentType); ct != "" {
		opts = append(opts, oss.ContentType(ct))
	}
	if err := s.bucket.PutObject(objectKey, bytes.NewReader(data), opts...); err != nil {
		return fmt.Errorf("storage: oss put %s: %w", objectKey, err)
	}
	return nil
}

func (s *OSSStore) Get(ctx context.Context, key string) ([]byte, error) {
	objectKey, err := s.objectKey(ctx, key)
	if err != nil {
		return nil, err
	}
	rc, err := s.bucket.GetObject(objectKey)
	if err != nil {
		if isOSSNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: oss get %s: %w", objectKey, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("storage: oss read %s: %w", objectKey, err)
	}
	return data, nil
}

func (s *OSSStore) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(ctx, key)
	if err != nil {
		return err
	}
	if err := s.bucket.DeleteObject(objectKey); err != nil && !isOSSNotFound(err) {
		return fmt.Errorf("storage: oss delete %s: %w", objectKey, err)
	}
	return nil
}

func (s *OSSStore) objectKey(ctx context.Context, key string) (string, error) {
	if s == nil || s.bucket == nil {
		return "", errors.New("storage: oss not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return joinObjectKey(s.prefix, key)
}

func joinObjectKey(prefix, key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if prefix == "" {
		return cleanKey, nil
	}
	return path.Join(prefix, cleanKey), nil
}

func isOSSNotFound(err error) bool {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == http.StatusNotFound
	}
	return false
}

var _ ObjectStore = (*OSSStore)(nil)
