package state

import (
	"context"
	"errors"
	"fmt"

	"videogateway/internal/storage"
)

// FileKV stores each key as <key>.json under a directory.
type FileKV struct {
	store *storage.FileStore
}

func NewFileKV(dir string) (*FileKV, error) {
	store, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &FileKV{store: store}, nil
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := f.store.Get(ctx, key+".json")
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := f.store.Write(ctx, key+".json", value); err != nil {
		return fmt.Errorf("state: write %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := f.store.Delete(ctx, key+".json"); err != nil {
		return fmt.Errorf("state: delete %s: %w", key, err)
	}
	return nil
}

var _ KV = (*FileKV)(nil)
