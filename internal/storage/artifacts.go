package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"videogateway/internal/domain"
)

// ErrInvalidJobID is returned for ids that cannot name a cache file.
var ErrInvalidJobID = errors.New("storage: invalid job id")

// ArtifactCache stores generated job artifacts as flat objects named
// {id}_{variant}.{ext}.
type ArtifactCache struct {
	store ObjectStore
}

// NewArtifactCache wraps store.
func NewArtifactCache(store ObjectStore) *ArtifactCache {
	return &ArtifactCache{store: store}
}

// Get returns the cached artifact. The boolean is false on a cache miss.
func (c *ArtifactCache) Get(ctx context.Context, id string, v domain.Variant) ([]byte, bool, error) {
	key, err := artifactKey(id, v)
	if err != nil {
		return nil, false, err
	}
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Put writes an artifact to the cache, replacing any earlier copy.
func (c *ArtifactCache) Put(ctx context.Context, id string, v domain.Variant, data []byte) error {
	key, err := artifactKey(id, v)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key, data, v.ContentType())
}

// Remove deletes every variant cached for id. Missing variants are ignored.
func (c *ArtifactCache) Remove(ctx context.Context, id string) error {
	var errs []error
	for _, v := range domain.Variants {
		key, err := artifactKey(id, v)
		if err != nil {
			return err
		}
		if err := c.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v, err))
		}
	}
	return errors.Join(errs...)
}

func artifactKey(id string, v domain.Variant) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return domain.ArtifactFilename(id, v), nil
}
