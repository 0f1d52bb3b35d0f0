package models

import (
	"strings"
	"time"
)

// WorkspaceVersion is the layout version written by this engine. A "1.x"
// (or absent) version means one monolithic workspace.json; "2.x" means
// per-entity files plus a manifest.
const WorkspaceVersion = "2.0.0"

// IsLegacyVersion reports whether a stored version selects the monolithic
// v1 layout.
func IsLegacyVersion(v string) bool {
	return v == "" || strings.HasPrefix(v, "1.")
}

// Viewport is the canvas pan/zoom state.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// DefaultViewport returns the origin at zoom 1.
func DefaultViewport() Viewport {
	return Viewport{Zoom: 1}
}

// Settings are per-workspace editor settings.
type Settings struct {
	GridSize         int    `json:"gridSize"`
	SnapToGrid       bool   `json:"snapToGrid"`
	ShowMinimap      bool   `json:"showMinimap"`
	AutoSave         bool   `json:"autoSave"`
	AutoSaveInterval int    `json:"autoSaveInterval"`
	Theme            string `json:"theme"`
	DefaultNodeColor string `json:"defaultNodeColor"`
	DefaultEdgeColor string `json:"defaultEdgeColor"`
}

// DefaultSettings returns the settings applied to new workspaces.
func DefaultSettings() Settings {
	return Settings{
		GridSize:         20,
		SnapToGrid:       true,
		ShowMinimap:      true,
		AutoSave:         true,
		AutoSaveInterval: 1000,
		Theme:            "dark",
		DefaultNodeColor: "#1e1e1e",
		DefaultEdgeColor: "#555555",
	}
}

// WorkspaceMeta is the workspace-level metadata stored in the manifest,
// separate from the node/edge collections.
type WorkspaceMeta struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     string    `json:"version"`
	Viewport    Viewport  `json:"viewport"`
	Settings    Settings  `json:"settings"`
}

// NewWorkspaceMeta returns metadata for a fresh v2 workspace.
func NewWorkspaceMeta(name string) *WorkspaceMeta {
	now := time.Now().UTC()
	return &WorkspaceMeta{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   WorkspaceVersion,
		Viewport:  DefaultViewport(),
		Settings:  DefaultSettings(),
	}
}

// ManifestNode is the per-node manifest entry. Only the type is indexed;
// the payload lives in the entity's folder.
type ManifestNode struct {
	Type NodeType `json:"type"`
}

// ManifestEdge is the per-edge manifest entry. Intentionally empty: the
// manifest only records edge existence.
type ManifestEdge struct{}

// Manifest is the top-level workspace index stored in workspace.json for
// v2 workspaces. Every id listed here must have a corresponding entity
// folder on disk once pending writes have settled.
type Manifest struct {
	Metadata WorkspaceMeta           `json:"metadata"`
	Nodes    map[string]ManifestNode `json:"nodes"`
	Edges    map[string]ManifestEdge `json:"edges"`
}

// NewManifest returns an empty manifest for a named workspace.
func NewManifest(name string) *Manifest {
	return &Manifest{
		Metadata: *NewWorkspaceMeta(name),
		Nodes:    make(map[string]ManifestNode),
		Edges:    make(map[string]ManifestEdge),
	}
}
