package models

import "time"

// CanvasMeta is the canvas identity record stored in .mosaic/meta.json.
type CanvasMeta struct {
	ID          string    `json:"id"`
	VaultID     string    `json:"vaultId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     string    `json:"version"`
}

// NewCanvasMeta returns metadata for a fresh canvas.
func NewCanvasMeta(id, vaultID, name string) CanvasMeta {
	now := time.Now().UTC()
	return CanvasMeta{
		ID:        id,
		VaultID:   vaultID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   WorkspaceVersion,
	}
}

// CanvasModeSelect is the default interaction mode.
const CanvasModeSelect = "select"

// CanvasUIState is the UI-only state stored in .mosaic/state.json. It is
// non-authoritative: a missing or corrupt file yields defaults.
type CanvasUIState struct {
	Viewport      Viewport  `json:"viewport"`
	SelectedNodes []string  `json:"selectedNodes"`
	SelectedEdges []string  `json:"selectedEdges"`
	CanvasMode    string    `json:"canvasMode"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// DefaultUIState returns the state applied to new or unreadable canvases.
func DefaultUIState() CanvasUIState {
	return CanvasUIState{
		Viewport:      DefaultViewport(),
		SelectedNodes: []string{},
		SelectedEdges: []string{},
		CanvasMode:    CanvasModeSelect,
		UpdatedAt:     time.Now().UTC(),
	}
}

// CanvasInfo pairs canvas metadata with its location, for listings.
type CanvasInfo struct {
	CanvasMeta
	Path string `json:"path"`
}
