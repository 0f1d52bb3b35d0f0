package canvas

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

const metaFile = "meta.json"

// LoadMeta reads the canvas identity from .mosaic/meta.json. A missing
// file surfaces as an error wrapping fs.ErrNotExist so callers can
// detect unmigrated canvases.
func LoadMeta(fsys FS, dir string) (*models.CanvasMeta, error) {
	path := filepath.Join(dir, mosaicDir, metaFile)
	raw, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read canvas meta: %w", err)
	}
	var meta models.CanvasMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, apperrors.InvalidJSON(path, err)
	}
	return &meta, nil
}

// SaveMeta writes .mosaic/meta.json.
func SaveMeta(fsys FS, dir string, meta *models.CanvasMeta) error {
	target := filepath.Join(dir, mosaicDir)
	if err := fsys.MkdirAll(target); err != nil {
		return fmt.Errorf("failed to create meta directory: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal canvas meta: %w", err)
	}
	if err := fsys.WriteFile(filepath.Join(target, metaFile), data); err != nil {
		return fmt.Errorf("failed to write canvas meta: %w", err)
	}
	return nil
}
