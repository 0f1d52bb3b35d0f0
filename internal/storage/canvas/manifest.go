package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

const manifestFile = "workspace.json"

// Manager maintains workspace.json: the id-to-type index plus workspace
// metadata, kept separate from per-entity payloads. It also performs the
// one-time migration from the legacy monolithic layout.
type Manager struct {
	dir    string
	fs     FS
	logger *slog.Logger
	nodes  *NodeStore
	edges  *EdgeStore
}

// NewManager creates a manifest manager over the given stores.
func NewManager(dir string, fsys FS, nodes *NodeStore, edges *EdgeStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, fs: fsys, logger: logger, nodes: nodes, edges: edges}
}

// Workspace is the result of loading workspace.json in either layout.
// Found is false when no manifest existed and the workspace is fresh.
type Workspace struct {
	Meta     models.WorkspaceMeta
	Nodes    []*models.Node
	Edges    []*models.Edge
	Report   LoadReport
	Migrated bool
	Found    bool
}

// manifestDoc probes workspace.json without committing to a layout.
type manifestDoc struct {
	Metadata *models.WorkspaceMeta `json:"metadata"`
	Nodes    json.RawMessage       `json:"nodes"`
	Edges    json.RawMessage       `json:"edges"`
}

// Save writes the v2 manifest, refreshing the updated timestamp. Called
// on structural changes only; per-entity edits never touch it.
func (m *Manager) Save(meta *models.WorkspaceMeta, nodes []*models.Node, edges []*models.Edge) error {
	meta.UpdatedAt = time.Now().UTC()
	if meta.Version == "" {
		meta.Version = models.WorkspaceVersion
	}
	man := models.Manifest{
		Metadata: *meta,
		Nodes:    make(map[string]models.ManifestNode, len(nodes)),
		Edges:    make(map[string]models.ManifestEdge, len(edges)),
	}
	for _, n := range nodes {
		man.Nodes[n.ID] = models.ManifestNode{Type: n.Type}
	}
	for _, e := range edges {
		man.Edges[e.ID] = models.ManifestEdge{}
	}
	data, err := json.MarshalIndent(&man, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if err := m.fs.WriteFile(filepath.Join(m.dir, manifestFile), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Load reads workspace.json and returns the full workspace. A version
// prefix "1." (or absent metadata) selects the legacy monolithic parse
// followed by a one-time migration to per-entity files; re-running on a
// migrated workspace is a no-op because the version check
// short-circuits. A missing manifest yields an empty workspace.
func (m *Manager) Load() (*Workspace, error) {
	path := filepath.Join(m.dir, manifestFile)
	raw, err := m.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Workspace{Meta: *models.NewWorkspaceMeta(filepath.Base(m.dir))}, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.InvalidJSON(path, err)
	}

	version := ""
	if doc.Metadata != nil {
		version = doc.Metadata.Version
	}
	if models.IsLegacyVersion(version) {
		return m.loadLegacy(&doc)
	}

	ws := &Workspace{Meta: *doc.Metadata, Found: true}
	normalizeMeta(&ws.Meta, filepath.Base(m.dir))

	var nodeEntries map[string]models.ManifestNode
	if len(doc.Nodes) > 0 {
		if err := json.Unmarshal(doc.Nodes, &nodeEntries); err != nil {
			return nil, apperrors.InvalidJSON(path, err)
		}
	}
	var edgeEntries map[string]models.ManifestEdge
	if len(doc.Edges) > 0 {
		if err := json.Unmarshal(doc.Edges, &edgeEntries); err != nil {
			return nil, apperrors.InvalidJSON(path, err)
		}
	}

	var nodeReport, edgeReport LoadReport
	ws.Nodes, nodeReport = m.nodes.LoadAll(nodeEntries)
	ws.Edges, edgeReport = m.edges.LoadAll(edgeEntries)
	ws.Report.Merge(nodeReport)
	ws.Report.Merge(edgeReport)
	if ws.Report.Quarantined > 0 {
		m.logger.Warn("workspace loaded with quarantined entities",
			"loaded", ws.Report.Loaded, "quarantined", ws.Report.Quarantined)
	}
	return ws, nil
}

// loadLegacy parses the monolithic v1 document, then migrates: every
// entity is written immediately to its own folder and the manifest is
// rewritten in the v2 layout.
func (m *Manager) loadLegacy(doc *manifestDoc) (*Workspace, error) {
	ws := &Workspace{Migrated: true, Found: true}
	if doc.Metadata != nil {
		ws.Meta = *doc.Metadata
	}
	normalizeMeta(&ws.Meta, filepath.Base(m.dir))

	nodes, err := legacyNodes(doc.Nodes)
	if err != nil {
		return nil, apperrors.MigrationFailed("workspace nodes", err)
	}
	edges, err := legacyEdges(doc.Edges)
	if err != nil {
		return nil, apperrors.MigrationFailed("workspace edges", err)
	}
	ws.Nodes = nodes
	ws.Edges = edges

	for _, n := range ws.Nodes {
		if err := m.nodes.SaveImmediate(n); err != nil {
			return nil, apperrors.MigrationFailed("node "+n.ID, err)
		}
	}
	for _, e := range ws.Edges {
		if err := m.edges.SaveImmediate(e); err != nil {
			return nil, apperrors.MigrationFailed("edge "+e.ID, err)
		}
	}

	ws.Meta.Version = models.WorkspaceVersion
	if err := m.Save(&ws.Meta, ws.Nodes, ws.Edges); err != nil {
		return nil, apperrors.MigrationFailed("workspace manifest", err)
	}
	m.logger.Info("migrated workspace to per-entity layout",
		"nodes", len(ws.Nodes), "edges", len(ws.Edges))
	return ws, nil
}

// legacyNodes accepts both shapes the monolithic format used over time:
// an id-keyed map of full nodes, or the older plain array.
func legacyNodes(raw json.RawMessage) ([]*models.Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var nodes []*models.Node
	switch firstByte(raw) {
	case '{':
		byID := make(map[string]*models.Node)
		if err := json.Unmarshal(raw, &byID); err != nil {
			return nil, err
		}
		for _, id := range sortedKeys(byID) {
			n := byID[id]
			if n.ID == "" {
				n.ID = id
			}
			nodes = append(nodes, n)
		}
	case '[':
		if err := json.Unmarshal(raw, &nodes); err != nil {
			return nil, err
		}
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected nodes shape")
	}
	for _, n := range nodes {
		if n.Data == nil {
			n.Data = make(map[string]any)
		}
		if n.ZIndex == 0 {
			n.ZIndex = models.DefaultZIndex
		}
		if n.Type == models.NodeNote {
			n.Data["viewMode"] = "view"
		}
	}
	return nodes, nil
}

func legacyEdges(raw json.RawMessage) ([]*models.Edge, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var edges []*models.Edge
	switch firstByte(raw) {
	case '{':
		byID := make(map[string]*models.Edge)
		if err := json.Unmarshal(raw, &byID); err != nil {
			return nil, err
		}
		for _, id := range sortedKeys(byID) {
			e := byID[id]
			if e.ID == "" {
				e.ID = id
			}
			edges = append(edges, e)
		}
	case '[':
		if err := json.Unmarshal(raw, &edges); err != nil {
			return nil, err
		}
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected edges shape")
	}
	for _, e := range edges {
		if e.Type == "" {
			e.Type = models.EdgeDefault
		}
		DeriveEdgeStyle(e)
	}
	return edges, nil
}

// firstByte returns the first non-whitespace byte of raw, or 0 for
// empty or null values.
func firstByte(raw []byte) byte {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0
	}
	return trimmed[0]
}

func normalizeMeta(meta *models.WorkspaceMeta, name string) {
	if meta.Name == "" {
		meta.Name = name
	}
	if meta.Viewport.Zoom == 0 {
		meta.Viewport.Zoom = 1
	}
	if meta.Settings == (models.Settings{}) {
		meta.Settings = models.DefaultSettings()
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = now
	}
}
