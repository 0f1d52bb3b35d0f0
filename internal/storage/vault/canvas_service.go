package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/mosaicflow/mosaic/internal/bundle"
	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
	"github.com/mosaicflow/mosaic/internal/session"
	"github.com/mosaicflow/mosaic/internal/storage/canvas"
	"github.com/mosaicflow/mosaic/internal/storage/vcs"
)

// legacyCanvasFile marks the v1 single-file canvas layout.
const legacyCanvasFile = "canvas.json"

// CanvasService manages the canvases of one vault, each a folder under
// <vault>/canvases/. Built by Service.Canvases.
type CanvasService struct {
	root    string // <vault>/canvases
	vault   string // vault root, commits are relative to it
	vaultID string
	vcs     vcs.Log
	logger  *slog.Logger
}

// Create scaffolds a canvas folder named after the sanitized display name,
// suffixed on collision, with metadata, default UI state and an empty
// workspace manifest.
func (cs *CanvasService) Create(name, description string) (*models.CanvasInfo, error) {
	folder := uniqueFolder(cs.root, sanitizeName(name))
	path := filepath.Join(cs.root, folder)
	for _, dir := range []string{path,
		filepath.Join(path, "nodes"),
		filepath.Join(path, "edges"),
		filepath.Join(path, "images"),
		filepath.Join(path, "attachments"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
			return nil, apperrors.IO("create canvas directories", err)
		}
	}

	meta := models.NewCanvasMeta(uuid.NewString(), cs.vaultID, name)
	meta.Description = description
	fsys := canvas.OSFS{}
	if err := canvas.SaveMeta(fsys, path, &meta); err != nil {
		return nil, err
	}
	if err := canvas.SaveState(fsys, path, models.DefaultUIState()); err != nil {
		return nil, err
	}
	mgr := canvas.NewManager(path, fsys,
		canvas.NewNodeStore(path, fsys, cs.logger),
		canvas.NewEdgeStore(path, fsys, cs.logger),
		cs.logger)
	if err := mgr.Save(models.NewWorkspaceMeta(name), nil, nil); err != nil {
		return nil, err
	}

	cs.logger.Info("canvas created", "name", name, "folder", folder)
	cs.commitLogged("Create canvas "+name, cs.rel(path))
	return &models.CanvasInfo{CanvasMeta: meta, Path: path}, nil
}

// Open resolves a canvas by folder or display name, upgrades the v1
// layout when needed, loads the workspace and returns a live session.
// The caller owns the session and must Close it.
func (cs *CanvasService) Open(name string) (*session.Session, *models.CanvasInfo, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return nil, nil, err
	}
	meta, migrated, err := cs.ensureV2(folder)
	if err != nil {
		return nil, nil, err
	}
	if migrated {
		cs.commitLogged("Migrate canvas "+meta.Name, cs.rel(folder))
	}

	sess := session.Open(folder, session.Options{Logger: cs.logger})
	if _, err := sess.LoadWorkspace(); err != nil {
		sess.Close()
		return nil, nil, err
	}
	if sess.Migrated() {
		cs.commitLogged("Migrate workspace of "+meta.Name, cs.rel(folder))
	}
	return sess, &models.CanvasInfo{CanvasMeta: *meta, Path: folder}, nil
}

// Path resolves a canvas reference (folder or display name) to its
// directory on disk without opening or migrating it.
func (cs *CanvasService) Path(name string) (string, error) {
	return cs.resolve(name)
}

// List returns every canvas in the vault, newest first by updatedAt.
// Unreadable folders are skipped and logged, never fatal. v1 canvases
// appear with whatever canvas.json holds; nothing is migrated here.
func (cs *CanvasService) List() ([]models.CanvasInfo, error) {
	entries, err := os.ReadDir(cs.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperrors.IO("list canvases", err)
	}

	var infos []models.CanvasInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folder := filepath.Join(cs.root, e.Name())
		meta, err := cs.peekMeta(folder)
		if err != nil {
			cs.logger.Warn("skipping unreadable canvas", "folder", e.Name(), "err", err)
			continue
		}
		infos = append(infos, models.CanvasInfo{CanvasMeta: meta, Path: folder})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Rename changes the display name and makes a best-effort attempt to
// rename the folder to match; a failed or conflicting folder rename
// keeps the old folder and is not an error.
func (cs *CanvasService) Rename(name, newName string) (*models.CanvasInfo, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return nil, err
	}
	meta, _, err := cs.ensureV2(folder)
	if err != nil {
		return nil, err
	}
	meta.Name = newName
	meta.UpdatedAt = time.Now().UTC()
	if err := canvas.SaveMeta(canvas.OSFS{}, folder, meta); err != nil {
		return nil, err
	}

	final := folder
	if target := filepath.Join(cs.root, sanitizeName(newName)); sanitizeName(newName) != "" && target != folder {
		if _, statErr := os.Stat(target); errors.Is(statErr, fs.ErrNotExist) {
			if renameErr := os.Rename(folder, target); renameErr == nil {
				final = target
			} else {
				cs.logger.Warn("canvas folder rename failed, keeping old folder",
					"from", folder, "to", target, "err", renameErr)
			}
		}
	}
	cs.commitLogged("Rename canvas to "+newName, cs.rel(folder), cs.rel(final))
	return &models.CanvasInfo{CanvasMeta: *meta, Path: final}, nil
}

// Delete removes a canvas folder. Returns the canvas id when it could be
// read beforehand, for recents cleanup.
func (cs *CanvasService) Delete(name string) (string, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return "", err
	}
	id := ""
	if meta, err := canvas.LoadMeta(canvas.OSFS{}, folder); err == nil {
		id = meta.ID
	}
	if err := os.RemoveAll(folder); err != nil {
		return "", apperrors.IO("delete canvas", err)
	}
	cs.logger.Info("canvas deleted", "folder", filepath.Base(folder), "id", id)
	cs.commitLogged("Delete canvas "+name, cs.rel(folder))
	return id, nil
}

// UpdateTags replaces the canvas tags.
func (cs *CanvasService) UpdateTags(name string, tags []string) (*models.CanvasInfo, error) {
	return cs.updateMeta(name, func(meta *models.CanvasMeta) {
		meta.Tags = tags
	})
}

// UpdateDescription replaces the canvas description.
func (cs *CanvasService) UpdateDescription(name, description string) (*models.CanvasInfo, error) {
	return cs.updateMeta(name, func(meta *models.CanvasMeta) {
		meta.Description = description
	})
}

// LoadState reads the UI state of a canvas, defaults when absent.
func (cs *CanvasService) LoadState(name string) (models.CanvasUIState, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return models.DefaultUIState(), err
	}
	return canvas.LoadState(canvas.OSFS{}, folder), nil
}

// SaveState persists the UI state of a canvas.
func (cs *CanvasService) SaveState(name string, st models.CanvasUIState) error {
	folder, err := cs.resolve(name)
	if err != nil {
		return err
	}
	return canvas.SaveState(canvas.OSFS{}, folder, st)
}

// ExportBundle packs a canvas into a portable bundle directory at dest.
// The canvas is upgraded to the folder layout first so the bundle always
// carries a meta.json.
func (cs *CanvasService) ExportBundle(name, dest string) (*bundle.Manifest, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return nil, err
	}
	meta, _, err := cs.ensureV2(folder)
	if err != nil {
		return nil, err
	}
	man, err := bundle.Export(folder, dest, bundle.Canvas{
		ID:          meta.ID,
		Name:        meta.Name,
		Description: meta.Description,
		Tags:        meta.Tags,
	})
	if err != nil {
		return nil, err
	}
	cs.logger.Info("canvas exported", "name", meta.Name, "dest", dest, "files", len(man.Files))
	return man, nil
}

// ImportBundle unpacks a verified bundle into a fresh canvas folder. The
// imported canvas gets a new id so a bundle can be imported next to its
// source without colliding.
func (cs *CanvasService) ImportBundle(bundleDir string) (*models.CanvasInfo, error) {
	man, err := bundle.Load(bundleDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cs.root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, apperrors.IO("create canvases directory", err)
	}
	folder := uniqueFolder(cs.root, sanitizeName(man.Canvas.Name))
	path := filepath.Join(cs.root, folder)
	if _, err := bundle.Extract(bundleDir, path); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}

	meta := models.NewCanvasMeta(uuid.NewString(), cs.vaultID, man.Canvas.Name)
	meta.Description = man.Canvas.Description
	meta.Tags = man.Canvas.Tags
	fsys := canvas.OSFS{}
	if err := canvas.SaveMeta(fsys, path, &meta); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}
	if err := canvas.SaveState(fsys, path, models.DefaultUIState()); err != nil {
		_ = os.RemoveAll(path)
		return nil, err
	}

	cs.logger.Info("canvas imported", "name", meta.Name, "folder", folder, "files", len(man.Files))
	cs.commitLogged("Import canvas "+meta.Name, cs.rel(path))
	return &models.CanvasInfo{CanvasMeta: meta, Path: path}, nil
}

func (cs *CanvasService) updateMeta(name string, change func(*models.CanvasMeta)) (*models.CanvasInfo, error) {
	folder, err := cs.resolve(name)
	if err != nil {
		return nil, err
	}
	meta, err := canvas.LoadMeta(canvas.OSFS{}, folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.CanvasNotFound(name)
		}
		return nil, err
	}
	change(meta)
	meta.UpdatedAt = time.Now().UTC()
	if err := canvas.SaveMeta(canvas.OSFS{}, folder, meta); err != nil {
		return nil, err
	}
	return &models.CanvasInfo{CanvasMeta: *meta, Path: folder}, nil
}

// resolve maps a folder or display name to the canvas folder path.
// Display names may contain characters that never reach the filesystem,
// so only separator-free names are tried as folders directly.
func (cs *CanvasService) resolve(name string) (string, error) {
	if name == "" {
		return "", apperrors.CanvasNotFound(name)
	}
	if !strings.ContainsAny(name, `/\`) {
		direct := filepath.Join(cs.root, name)
		if st, err := os.Stat(direct); err == nil && st.IsDir() {
			return direct, nil
		}
	}
	entries, err := os.ReadDir(cs.root)
	if err != nil {
		return "", apperrors.CanvasNotFound(name)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folder := filepath.Join(cs.root, e.Name())
		if meta, err := cs.peekMeta(folder); err == nil && meta.Name == name {
			return folder, nil
		}
	}
	return "", apperrors.CanvasNotFound(name)
}

// ensureV2 loads canvas metadata, migrating the v1 layout on first touch:
// canvas.json seeds .mosaic/meta.json, a default state file is written if
// missing. Idempotent, meta.json short-circuits later calls.
func (cs *CanvasService) ensureV2(folder string) (*models.CanvasMeta, bool, error) {
	fsys := canvas.OSFS{}
	meta, err := canvas.LoadMeta(fsys, folder)
	if err == nil {
		return meta, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	legacy, err := parseLegacyMeta(folder)
	if err != nil {
		return nil, false, err
	}
	if legacy.ID == "" {
		legacy.ID = uuid.NewString()
	}
	legacy.VaultID = cs.vaultID
	if err := canvas.SaveMeta(fsys, folder, &legacy); err != nil {
		return nil, false, apperrors.MigrationFailed("canvas "+folder, err)
	}
	statePath := filepath.Join(folder, ".mosaic", "state.json")
	if _, err := os.Stat(statePath); errors.Is(err, fs.ErrNotExist) {
		if err := canvas.SaveState(fsys, folder, models.DefaultUIState()); err != nil {
			return nil, false, apperrors.MigrationFailed("canvas "+folder, err)
		}
	}
	cs.logger.Info("canvas upgraded to folder layout", "folder", filepath.Base(folder), "id", legacy.ID)
	return &legacy, true, nil
}

// peekMeta reads metadata without writing anything: v2 meta.json when
// present, otherwise whatever the v1 canvas.json holds.
func (cs *CanvasService) peekMeta(folder string) (models.CanvasMeta, error) {
	meta, err := canvas.LoadMeta(canvas.OSFS{}, folder)
	if err == nil {
		return *meta, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return models.CanvasMeta{}, err
	}
	return parseLegacyMeta(folder)
}

// parseLegacyMeta builds metadata from a v1 canvas.json, tolerating both
// camelCase and snake_case keys. The ID may come back empty; migration
// fills it, listings leave it alone.
func parseLegacyMeta(folder string) (models.CanvasMeta, error) {
	raw, err := os.ReadFile(filepath.Join(folder, legacyCanvasFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.CanvasMeta{}, apperrors.CanvasNotFound(filepath.Base(folder))
		}
		return models.CanvasMeta{}, apperrors.IO("read canvas.json", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.CanvasMeta{}, apperrors.New(apperrors.CodeInvalidCanvas,
			"unreadable canvas.json in "+filepath.Base(folder)).Wrap(err)
	}

	meta := models.CanvasMeta{
		ID:        stringField(doc, "id"),
		Name:      stringField(doc, "name"),
		CreatedAt: timeField(doc, "createdAt", "created_at"),
		UpdatedAt: timeField(doc, "updatedAt", "updated_at"),
		Version:   models.WorkspaceVersion,
	}
	if meta.Name == "" {
		meta.Name = filepath.Base(folder)
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = meta.CreatedAt
	}
	return meta, nil
}

// commitLogged records paths in the version log when one is configured.
// Failures are logged and dropped; saves never depend on the log.
func (cs *CanvasService) commitLogged(msg string, paths ...string) {
	if cs.vcs == nil {
		return
	}
	if err := cs.vcs.Commit(context.Background(), msg, paths); err != nil {
		cs.logger.Warn("version log commit failed", "msg", msg, "err", err)
	}
}

// rel converts an absolute canvas path to a vault-relative slash path for
// the version log.
func (cs *CanvasService) rel(path string) string {
	r, err := filepath.Rel(cs.vault, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(r)
}

// sanitizeName maps a display name to a safe folder name: letters,
// digits, dash, underscore and space survive, the rest becomes an
// underscore, and the result is trimmed.
func sanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == ' ' {
			return r
		}
		return '_'
	}, name)
	return strings.TrimSpace(mapped)
}

// uniqueFolder appends _1, _2, … until the name is free under root.
func uniqueFolder(root, base string) string {
	if base == "" {
		base = "Untitled"
	}
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(root, name)); errors.Is(err, fs.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}
