package domain

import (
	"fmt"
	"strings"
)

// StorageMode decides where artifacts of completed jobs are kept.
type StorageMode string

const (
	// StorageModeFS keeps artifacts as flat files in the gateway's cache.
	StorageModeFS StorageMode = "fs"
	// StorageModeBlob keeps artifacts in the client's own blob store; the
	// gateway only streams them.
	StorageModeBlob StorageMode = "blob"
)

// ParseStorageMode accepts the configured spelling of a storage mode.
func ParseStorageMode(raw string) (StorageMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fs", "filesystem":
		return StorageModeFS, nil
	case "blob", "indexeddb":
		return StorageModeBlob, nil
	default:
		return "", fmt.Errorf("unsupported storage mode %q", raw)
	}
}

// Variant identifies one of the binary artifacts of a completed job.
type Variant string

const (
	VariantVideo       Variant = "video"
	VariantThumbnail   Variant = "thumbnail"
	VariantSpritesheet Variant = "spritesheet"
)

// Variants lists every artifact variant in download order.
var Variants = []Variant{VariantVideo, VariantThumbnail, VariantSpritesheet}

// ParseVariant maps a query value to a Variant; empty means video.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.TrimSpace(raw)) {
	case "", VariantVideo:
		return VariantVideo, nil
	case VariantThumbnail:
		return VariantThumbnail, nil
	case VariantSpritesheet:
		return VariantSpritesheet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, raw)
	}
}

// Extension returns the file extension of the variant without the dot.
func (v Variant) Extension() string {
	switch v {
	case VariantThumbnail:
		return "webp"
	case VariantSpritesheet:
		return "jpg"
	default:
		return "mp4"
	}
}

// ContentType returns the MIME type served for the variant.
func (v Variant) ContentType() string {
	switch v {
	case VariantThumbnail:
		return "image/webp"
	case VariantSpritesheet:
		return "image/jpeg"
	default:
		return "video/mp4"
	}
}

// ArtifactFilename is the cache file name of a job artifact, e.g.
// "video_123_thumbnail.webp".
func ArtifactFilename(jobID string, v Variant) string {
	return fmt.Sprintf("%s_%s.%s", jobID, v, v.Extension())
}
