// Package zip bundles in-memory artifacts into a single archive.
package zip

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"time"
)

// Asset is one file of an archive.
type Asset struct {
	Filename string
	Data     []byte
}

// WriteAssets streams assets into w as a zip archive. Entries keep the given
// order; empty assets are skipped.
func WriteAssets(w io.Writer, modified time.Time, assets []Asset) error {
	if len(assets) == 0 {
		return errors.New("zip: nothing to archive")
	}
	zw := zip.NewWriter(w)
	for _, asset := range assets {
		if len(asset.Data) == 0 {
			continue
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     asset.Filename,
			Method:   zip.Store,
			Modified: modified,
		})
		if err != nil {
			zw.Close()
			return fmt.Errorf("zip: add %s: %w", asset.Filename, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			zw.Close()
			return fmt.Errorf("zip: write %s: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: finalize: %w", err)
	}
	return nil
}
