package canvas

import (
	"encoding/json"
	"path/filepath"
	"time"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

const (
	mosaicDir = ".mosaic"
	stateFile = "state.json"
)

// LoadState reads the UI state from .mosaic/state.json. The file is
// non-authoritative: missing or corrupt state yields the defaults, never
// an error.
func LoadState(fsys FS, dir string) models.CanvasUIState {
	raw, err := fsys.ReadFile(filepath.Join(dir, mosaicDir, stateFile))
	if err != nil {
		return models.DefaultUIState()
	}
	var st models.CanvasUIState
	if err := json.Unmarshal(raw, &st); err != nil {
		return models.DefaultUIState()
	}
	if st.Viewport.Zoom == 0 {
		st.Viewport.Zoom = 1
	}
	if st.CanvasMode == "" {
		st.CanvasMode = models.CanvasModeSelect
	}
	if st.SelectedNodes == nil {
		st.SelectedNodes = []string{}
	}
	if st.SelectedEdges == nil {
		st.SelectedEdges = []string{}
	}
	return st
}

// SaveState writes .mosaic/state.json, refreshing its timestamp.
func SaveState(fsys FS, dir string, st models.CanvasUIState) error {
	target := filepath.Join(dir, mosaicDir)
	if err := fsys.MkdirAll(target); err != nil {
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to create state directory").Wrap(err)
	}
	st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&st, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to marshal canvas state").Wrap(err)
	}
	if err := fsys.WriteFile(filepath.Join(target, stateFile), data); err != nil {
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to write canvas state").Wrap(err)
	}
	return nil
}
