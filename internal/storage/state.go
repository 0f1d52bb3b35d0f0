package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

const stateFile = "state.json"

// LoadAppState reads the last-session state from dir. A missing file
// yields a fresh state so first launch is not an error.
func LoadAppState(dir string) (*models.AppState, error) {
	path := filepath.Join(dir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewAppState(), nil
		}
		return nil, fmt.Errorf("failed to read app state: %w", err)
	}
	var state models.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperrors.InvalidJSON(path, err)
	}
	if state.Version == "" {
		state.Version = models.AppStateVersion
	}
	return &state, nil
}

// SaveAppState writes the last-session state, refreshing its timestamp.
func SaveAppState(dir string, state *models.AppState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: app data directory
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to create data directory").Wrap(err)
	}
	state.Touch()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to marshal app state").Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, stateFile), data, 0o644); err != nil { //nolint:gosec // G306: state is not a secret
		return apperrors.New(apperrors.CodeStateSaveFailed, "failed to write app state").Wrap(err)
	}
	return nil
}
