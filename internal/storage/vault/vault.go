// Package vault manages vault directories: the vault.json identity record,
// the canvases inside, and content-addressed attachments. A vault is plain
// folders on disk; everything here works on any directory the user picks.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
	"github.com/mosaicflow/mosaic/internal/storage/vcs"
)

const (
	vaultFile      = "vault.json"
	canvasesDir    = "canvases"
	assetsDir      = "assets"
	attachmentsDir = "attachments"
	configDir      = ".mosaicflow"
)

// Service performs vault-level operations.
type Service struct {
	logger *slog.Logger
}

// NewService returns a vault service. A nil logger uses slog.Default().
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// IsVault reports whether path holds a vault.json.
func (s *Service) IsVault(path string) bool {
	_, err := os.Stat(filepath.Join(path, vaultFile))
	return err == nil
}

// Create scaffolds a new vault at path with one default canvas. It fails
// when a vault already lives there.
func (s *Service) Create(path, name, description string) (*models.VaultInfo, error) {
	if s.IsVault(path) {
		return nil, apperrors.New(apperrors.CodeVaultAlreadyExists, "vault already exists at "+path)
	}
	for _, dir := range []string{path,
		filepath.Join(path, canvasesDir),
		filepath.Join(path, assetsDir),
		filepath.Join(path, attachmentsDir),
		filepath.Join(path, configDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, apperrors.IO("create vault directories", err)
		}
	}

	meta := models.NewVaultMeta(uuid.NewString(), name, description)
	if err := writeVaultMeta(path, &meta); err != nil {
		return nil, err
	}

	canvases, err := s.Canvases(path, nil)
	if err != nil {
		return nil, err
	}
	if _, err := canvases.Create("Untitled", ""); err != nil {
		return nil, fmt.Errorf("failed to create default canvas: %w", err)
	}
	s.logger.Info("vault created", "path", path, "id", meta.ID)

	info := &models.VaultInfo{VaultMeta: meta, Path: path, CanvasCount: 1}
	return info, nil
}

// Open reads a vault, upgrading v1 metadata in place: a vault.json without
// an id or with an old version gets the missing fields filled and the
// version bumped. The upgrade is idempotent.
func (s *Service) Open(path string) (*models.VaultInfo, error) {
	raw, err := os.ReadFile(filepath.Join(path, vaultFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.VaultNotFound(path)
		}
		return nil, apperrors.IO("read vault.json", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidVault, "unreadable vault.json at "+path).Wrap(err)
	}

	meta := metaFromDoc(doc)
	if meta.ID == "" || meta.Version != models.WorkspaceVersion {
		if meta.ID == "" {
			meta.ID = uuid.NewString()
		}
		meta.Version = models.WorkspaceVersion
		meta.UpdatedAt = time.Now().UTC()
		if err := writeVaultMeta(path, &meta); err != nil {
			return nil, apperrors.MigrationFailed("vault "+path, err)
		}
		s.logger.Info("vault metadata upgraded", "path", path, "id", meta.ID)
	}

	return s.info(path, meta), nil
}

// Info reads vault metadata without side effects.
func (s *Service) Info(path string) (*models.VaultInfo, error) {
	raw, err := os.ReadFile(filepath.Join(path, vaultFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.VaultNotFound(path)
		}
		return nil, apperrors.IO("read vault.json", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidVault, "unreadable vault.json at "+path).Wrap(err)
	}
	return s.info(path, metaFromDoc(doc)), nil
}

// Rename updates the vault display name.
func (s *Service) Rename(path, newName string) (*models.VaultInfo, error) {
	return s.updateMeta(path, func(meta *models.VaultMeta) {
		meta.Name = newName
	})
}

// UpdateDescription replaces the vault description.
func (s *Service) UpdateDescription(path, description string) (*models.VaultInfo, error) {
	return s.updateMeta(path, func(meta *models.VaultMeta) {
		meta.Description = description
	})
}

// Canvases returns the canvas service for this vault. log enables the
// optional version history; nil disables it.
func (s *Service) Canvases(path string, log vcs.Log) (*CanvasService, error) {
	info, err := s.Info(path)
	if err != nil {
		return nil, err
	}
	return &CanvasService{
		root:    filepath.Join(path, canvasesDir),
		vault:   path,
		vaultID: info.ID,
		vcs:     log,
		logger:  s.logger,
	}, nil
}

// Attachments returns the content-addressed attachment store for the vault.
func (s *Service) Attachments(path string) *Attachments {
	return &Attachments{root: path}
}

func (s *Service) updateMeta(path string, change func(*models.VaultMeta)) (*models.VaultInfo, error) {
	info, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	meta := info.VaultMeta
	change(&meta)
	meta.UpdatedAt = time.Now().UTC()
	if err := writeVaultMeta(path, &meta); err != nil {
		return nil, err
	}
	return s.info(path, meta), nil
}

func (s *Service) info(path string, meta models.VaultMeta) *models.VaultInfo {
	return &models.VaultInfo{
		VaultMeta:   meta,
		Path:        path,
		CanvasCount: countCanvases(filepath.Join(path, canvasesDir)),
	}
}

func countCanvases(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}

func writeVaultMeta(path string, meta *models.VaultMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, vaultFile), data, 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional for data files
		return apperrors.IO("write vault.json", err)
	}
	return nil
}

// metaFromDoc builds VaultMeta from a generic vault.json document,
// tolerating the v1 snake_case keys. The ID and version come back as
// found; Open decides whether an upgrade rewrite is due.
func metaFromDoc(doc map[string]any) models.VaultMeta {
	meta := models.VaultMeta{
		ID:          stringField(doc, "id"),
		Name:        stringField(doc, "name"),
		Description: stringField(doc, "description"),
		Version:     stringField(doc, "version"),
		CreatedAt:   timeField(doc, "createdAt", "created_at"),
		UpdatedAt:   timeField(doc, "updatedAt", "updated_at"),
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	return meta
}

func stringField(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k].(string); ok {
			return v
		}
	}
	return ""
}

func timeField(doc map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		v, ok := doc[k].(string)
		if !ok {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}
