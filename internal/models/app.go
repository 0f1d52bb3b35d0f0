package models

import (
	"time"

	"github.com/maruel/ksid"
)

// AppConfig is the app-level configuration stored in settings.json in the
// data directory. Missing keys fall back to defaults.
type AppConfig struct {
	// Defaults seed the settings of newly created workspaces.
	Defaults Settings `json:"defaults"`
	// Versioning enables the git-backed canvas version log.
	Versioning bool `json:"versioning"`
}

// DefaultAppConfig returns the configuration used when config.json is
// missing.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{Defaults: DefaultSettings()}
}

// AppState is the session state stored in state.json in the data directory.
type AppState struct {
	LastVaultID  string    `json:"lastVaultId,omitempty"`
	LastCanvasID string    `json:"lastCanvasId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
	Version      string    `json:"version"`
}

// AppStateVersion tags the AppState schema for future migrations.
const AppStateVersion = "1.0.0"

// NewAppState returns an empty state record.
func NewAppState() *AppState {
	return &AppState{UpdatedAt: time.Now().UTC(), Version: AppStateVersion}
}

// Touch refreshes the update timestamp.
func (s *AppState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// OpenKind distinguishes history records.
type OpenKind string

const (
	// OpenVault records a vault being opened.
	OpenVault OpenKind = "vault"
	// OpenCanvas records a canvas being opened.
	OpenCanvas OpenKind = "canvas"
)

// OpenRecord is one append-only history event: a vault or canvas was
// opened. Recency queries are derived from the log rather than mutated in
// place.
type OpenRecord struct {
	ID       ksid.ID   `json:"id" jsonschema:"description=Sortable record identifier"`
	Kind     OpenKind  `json:"kind" jsonschema:"description=Whether a vault or a canvas was opened"`
	RefID    string    `json:"refId" jsonschema:"description=UUID of the opened vault or canvas"`
	VaultID  string    `json:"vaultId,omitempty" jsonschema:"description=Parent vault UUID for canvas records"`
	Name     string    `json:"name" jsonschema:"description=Display name at open time"`
	Path     string    `json:"path" jsonschema:"description=Filesystem path at open time"`
	OpenedAt time.Time `json:"openedAt" jsonschema:"description=When the open happened"`
}

// Clone returns a copy of the record.
func (r OpenRecord) Clone() OpenRecord {
	return r
}

// RecentEntry is a deduplicated view over OpenRecords: the newest event per
// target plus how many times it was opened.
type RecentEntry struct {
	Kind       OpenKind  `json:"kind"`
	RefID      string    `json:"refId"`
	VaultID    string    `json:"vaultId,omitempty"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	LastOpened time.Time `json:"lastOpened"`
	OpenCount  int       `json:"openCount"`
}
