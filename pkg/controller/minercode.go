package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightcloud/nightfleet/pkg/objectstore"
)

// metaSHA256 is the object-metadata key carrying the archive checksum.
const metaSHA256 = "sha256"

// UploadMinerCode ships the miner archive to the bucket with its SHA-256
// in object metadata, so workers can verify the download.
func (c *Controller) UploadMinerCode(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read miner archive: %w", err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	meta := map[string]string{metaSHA256: digest}
	if err := c.store.Put(ctx, objectstore.KeyMinerCode, data, meta); err != nil {
		return "", fmt.Errorf("failed to upload miner archive: %w", err)
	}
	c.logger.Info().
		Str("sha256", digest).
		Int("bytes", len(data)).
		Msg("miner code uploaded")
	return digest, nil
}

// FetchMinerCode downloads the miner archive to destPath, verifying the
// checksum recorded at upload. A digest mismatch leaves no file behind.
func FetchMinerCode(ctx context.Context, store objectstore.Store, destPath string) error {
	obj, err := store.Get(ctx, objectstore.KeyMinerCode)
	if err != nil {
		return fmt.Errorf("failed to download miner archive: %w", err)
	}

	want := obj.Metadata[metaSHA256]
	if want == "" {
		return fmt.Errorf("miner archive has no checksum metadata, refusing to install")
	}
	sum := sha256.Sum256(obj.Data)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("miner archive checksum mismatch: got %s want %s", got, want)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}
	if err := os.WriteFile(destPath, obj.Data, 0644); err != nil {
		return fmt.Errorf("failed to write miner archive: %w", err)
	}
	return nil
}
