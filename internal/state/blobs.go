package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"videogateway/internal/storage"
)

// BlobRecord is one locally kept job: its metadata, the video and an
// optional thumbnail.
type BlobRecord struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	CreatedAt int64  `json:"created_at"`
	Video     []byte `json:"-"`
	Thumbnail []byte `json:"-"`
}

// BlobStore keeps records as <id>/meta.json, <id>/video.mp4 and
// <id>/thumbnail.webp under a directory.
type BlobStore struct {
	files *storage.FileStore
}

func NewBlobStore(dir string) (*BlobStore, error) {
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return &BlobStore{files: files}, nil
}

func blobKey(id, name string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("state: invalid blob id %q", id)
	}
	return id + "/" + name, nil
}

// Put writes a record, replacing any previous one with the same id. The
// metadata is written last so a readable record always has its video.
func (b *BlobStore) Put(ctx context.Context, rec BlobRecord) error {
	videoKey, err := blobKey(rec.ID, "video.mp4")
	if err != nil {
		return err
	}
	if _, err := b.files.Write(ctx, videoKey, rec.Video); err != nil {
		return err
	}
	thumbKey, _ := blobKey(rec.ID, "thumbnail.webp")
	if len(rec.Thumbnail) > 0 {
		if _, err := b.files.Write(ctx, thumbKey, rec.Thumbnail); err != nil {
			return err
		}
	} else if err := b.files.Delete(ctx, thumbKey); err != nil {
		return err
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("state: encode blob meta: %w", err)
	}
	metaKey, _ := blobKey(rec.ID, "meta.json")
	_, err = b.files.Write(ctx, metaKey, meta)
	return err
}

// Get returns the record for id or ErrNotFound.
func (b *BlobStore) Get(ctx context.Context, id string) (BlobRecord, error) {
	metaKey, err := blobKey(id, "meta.json")
	if err != nil {
		return BlobRecord{}, err
	}
	raw, err := b.files.Get(ctx, metaKey)
	if errors.Is(err, storage.ErrNotFound) {
		return BlobRecord{}, ErrNotFound
	}
	if err != nil {
		return BlobRecord{}, err
	}
	var rec BlobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return BlobRecord{}, fmt.Errorf("state: decode blob meta %s: %w", id, err)
	}
	videoKey, _ := blobKey(id, "video.mp4")
	if rec.Video, err = b.files.Get(ctx, videoKey); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return BlobRecord{}, ErrNotFound
		}
		return BlobRecord{}, err
	}
	thumbKey, _ := blobKey(id, "thumbnail.webp")
	rec.Thumbnail, err = b.files.Get(ctx, thumbKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return BlobRecord{}, err
	}
	return rec, nil
}

// Delete removes the record for id. Missing records are not an error.
func (b *BlobStore) Delete(ctx context.Context, id string) error {
	var errs []error
	for _, name := range []string{"meta.json", "video.mp4", "thumbnail.webp"} {
		key, err := blobKey(id, name)
		if err != nil {
			return err
		}
		errs = append(errs, b.files.Delete(ctx, key))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	// The record directory is empty by now.
	_ = os.Remove(filepath.Join(b.files.BasePath(), id))
	return nil
}

// Clear removes every record.
func (b *BlobStore) Clear(ctx context.Context) error {
	entries, err := os.ReadDir(b.files.BasePath())
	if err != nil {
		return fmt.Errorf("state: list blobs: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.Delete(ctx, entry.Name()); err != nil {
			return err
		}
	}
	return nil
}
