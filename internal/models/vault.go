package models

import "time"

// VaultMeta is the vault identity record stored in vault.json.
type VaultMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     string    `json:"version"`
}

// NewVaultMeta returns metadata for a fresh vault.
func NewVaultMeta(id, name, description string) VaultMeta {
	now := time.Now().UTC()
	return VaultMeta{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     WorkspaceVersion,
	}
}

// VaultInfo pairs vault metadata with its location and canvas count.
type VaultInfo struct {
	VaultMeta
	Path        string `json:"path"`
	CanvasCount int    `json:"canvasCount"`
}
