// Package storage persists application level data: global settings,
// last-session state and the log of recently opened vaults and canvases.
// Everything lives under a single data directory, one file per concern.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

const settingsFile = "settings.json"

// DefaultDataDir returns the per-user application data directory.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config directory: %w", err)
	}
	return filepath.Join(base, "mosaic"), nil
}

// LoadAppConfig reads settings.json from dir. A missing file yields the
// defaults; present keys override them, absent keys keep them.
func LoadAppConfig(dir string) (*models.AppConfig, error) {
	cfg := models.DefaultAppConfig()
	path := filepath.Join(dir, settingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read app settings: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.InvalidJSON(path, err)
	}
	return cfg, nil
}

// SaveAppConfig writes settings.json, creating dir if needed.
func SaveAppConfig(dir string, cfg *models.AppConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: app data directory
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal app settings: %w", err)
	}
	path := filepath.Join(dir, settingsFile)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: settings are not secrets
		return fmt.Errorf("failed to write app settings: %w", err)
	}
	return nil
}
