package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mosaicflow/mosaic/internal/models"
)

const (
	nodesDir       = "nodes"
	edgesDir       = "edges"
	contentFile    = "content"
	propertiesFile = "properties.json"
	joinedFile     = "joined.json"
	quarantineDir  = ".mosaic/quarantine"
)

var (
	errNodeNotFound = errors.New("node not found")
	errEdgeNotFound = errors.New("edge not found")
)

// LoadReport summarizes a LoadAll pass. Skipped counts entities whose
// files were missing (crash debris, silently dropped); Quarantined
// counts corrupt entities moved aside.
type LoadReport struct {
	Loaded      int
	Skipped     int
	Quarantined int
}

// Merge accumulates another report into r.
func (r *LoadReport) Merge(o LoadReport) {
	r.Loaded += o.Loaded
	r.Skipped += o.Skipped
	r.Quarantined += o.Quarantined
}

// NodeStore persists nodes as two files per entity under
// nodes/<id>/data/: a raw content file and properties.json. Writes are
// debounced through two independent schedulers so fast-typed text and
// fast-dragged geometry do not block each other.
type NodeStore struct {
	dir    string
	fs     FS
	logger *slog.Logger

	content *Scheduler
	props   *Scheduler
}

// NewNodeStore creates a node store rooted at the canvas directory.
func NewNodeStore(dir string, fsys FS, logger *slog.Logger) *NodeStore {
	if logger == nil {
		logger = slog.Default()
	}
	ns := &NodeStore{dir: dir, fs: fsys, logger: logger}
	ns.content = NewScheduler("node-content", contentDelay, ns.writeContent, logger)
	ns.props = NewScheduler("node-properties", propertiesDelay, ns.writeProperties, logger)
	return ns
}

// Save schedules debounced writes for both node artifacts.
func (ns *NodeStore) Save(n *models.Node) error {
	content, props, err := ns.encode(n)
	if err != nil {
		return err
	}
	ns.content.Schedule(n.ID, content)
	ns.props.Schedule(n.ID, props)
	return nil
}

// SaveImmediate writes both node artifacts now, bypassing debouncing.
// Used at creation so the entity exists before the manifest references
// it, and as the migration write path.
func (ns *NodeStore) SaveImmediate(n *models.Node) error {
	content, props, err := ns.encode(n)
	if err != nil {
		return err
	}
	if err := ns.content.WriteNow(n.ID, content); err != nil {
		return err
	}
	return ns.props.WriteNow(n.ID, props)
}

// Delete cancels all pending writes for the id, then removes the node
// folder. Cancelling first prevents a just-fired timer from recreating
// a folder that is mid-deletion.
func (ns *NodeStore) Delete(id string) error {
	ns.content.Cancel(id)
	ns.props.Cancel(id)
	if err := ns.fs.RemoveAll(ns.nodeDir(id)); err != nil {
		return fmt.Errorf("failed to remove node %s: %w", id, err)
	}
	return nil
}

// Load reads one node. The properties file is required; the content
// file is optional and its absence means empty content.
func (ns *NodeStore) Load(id string, t models.NodeType) (*models.Node, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, errNodeNotFound
	}
	raw, err := ns.fs.ReadFile(filepath.Join(ns.dataDir(id), propertiesFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errNodeNotFound
		}
		return nil, fmt.Errorf("failed to read node %s properties: %w", id, err)
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("failed to parse node %s properties: %w", id, err)
	}

	content := ""
	if raw, err := ns.fs.ReadFile(filepath.Join(ns.dataDir(id), contentFile)); err == nil {
		content = string(raw)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read node %s content: %w", id, err)
	}

	return NodeFromParts(id, t, props, content)
}

// LoadAll loads every node listed in the manifest. Missing entities are
// skipped silently; corrupt ones are quarantined. The workspace load
// succeeds either way.
func (ns *NodeStore) LoadAll(entries map[string]models.ManifestNode) ([]*models.Node, LoadReport) {
	var report LoadReport
	nodes := make([]*models.Node, 0, len(entries))
	for _, id := range sortedKeys(entries) {
		n, err := ns.Load(id, entries[id].Type)
		switch {
		case err == nil:
			nodes = append(nodes, n)
			report.Loaded++
		case errors.Is(err, errNodeNotFound):
			ns.logger.Debug("node missing on disk, dropped", "id", id)
			report.Skipped++
		default:
			ns.logger.Warn("quarantining unreadable node", "id", id, "err", err)
			quarantine(ns.fs, ns.dir, ns.nodeDir(id), id, ns.logger)
			report.Quarantined++
		}
	}
	return nodes, report
}

// CancelAll drops every pending node write.
func (ns *NodeStore) CancelAll() {
	ns.content.CancelAll()
	ns.props.CancelAll()
}

// Pending returns outstanding writes across both streams.
func (ns *NodeStore) Pending() int {
	return ns.content.Pending() + ns.props.Pending()
}

func (ns *NodeStore) encode(n *models.Node) (content, props []byte, err error) {
	text, err := ExtractContent(n.Type, n.Data)
	if err != nil {
		return nil, nil, err
	}
	propsMap, err := ExtractProperties(n)
	if err != nil {
		return nil, nil, err
	}
	props, err = json.MarshalIndent(propsMap, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal node %s properties: %w", n.ID, err)
	}
	return []byte(text), props, nil
}

func (ns *NodeStore) writeContent(id string, payload []byte) error {
	dir := ns.dataDir(id)
	if err := ns.fs.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	if err := ns.fs.WriteFile(filepath.Join(dir, contentFile), payload); err != nil {
		return fmt.Errorf("failed to write node content: %w", err)
	}
	return nil
}

func (ns *NodeStore) writeProperties(id string, payload []byte) error {
	dir := ns.dataDir(id)
	if err := ns.fs.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create node directory: %w", err)
	}
	if err := ns.fs.WriteFile(filepath.Join(dir, propertiesFile), payload); err != nil {
		return fmt.Errorf("failed to write node properties: %w", err)
	}
	return nil
}

func (ns *NodeStore) nodeDir(id string) string {
	return filepath.Join(ns.dir, nodesDir, id)
}

func (ns *NodeStore) dataDir(id string) string {
	return filepath.Join(ns.dir, nodesDir, id, "data")
}

// EdgeStore persists edges as one joined.json per entity under
// edges/<id>/, debounced through a single scheduler.
type EdgeStore struct {
	dir    string
	fs     FS
	logger *slog.Logger

	writer *Scheduler
}

// NewEdgeStore creates an edge store rooted at the canvas directory.
func NewEdgeStore(dir string, fsys FS, logger *slog.Logger) *EdgeStore {
	if logger == nil {
		logger = slog.Default()
	}
	es := &EdgeStore{dir: dir, fs: fsys, logger: logger}
	es.writer = NewScheduler("edge", edgeDelay, es.writeJoined, logger)
	return es
}

// Save schedules a debounced write of the edge.
func (es *EdgeStore) Save(e *models.Edge) error {
	payload, err := EncodeEdge(e)
	if err != nil {
		return err
	}
	es.writer.Schedule(e.ID, payload)
	return nil
}

// SaveImmediate writes the edge now, bypassing debouncing.
func (es *EdgeStore) SaveImmediate(e *models.Edge) error {
	payload, err := EncodeEdge(e)
	if err != nil {
		return err
	}
	return es.writer.WriteNow(e.ID, payload)
}

// Delete cancels any pending write for the id, then removes the edge
// folder.
func (es *EdgeStore) Delete(id string) error {
	es.writer.Cancel(id)
	if err := es.fs.RemoveAll(es.edgeDir(id)); err != nil {
		return fmt.Errorf("failed to remove edge %s: %w", id, err)
	}
	return nil
}

// Load reads one edge.
func (es *EdgeStore) Load(id string) (*models.Edge, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, errEdgeNotFound
	}
	raw, err := es.fs.ReadFile(filepath.Join(es.edgeDir(id), joinedFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errEdgeNotFound
		}
		return nil, fmt.Errorf("failed to read edge %s: %w", id, err)
	}
	e, err := DecodeEdge(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse edge %s: %w", id, err)
	}
	e.ID = id
	return e, nil
}

// LoadAll loads every edge listed in the manifest, with the same
// skip/quarantine policy as nodes.
func (es *EdgeStore) LoadAll(entries map[string]models.ManifestEdge) ([]*models.Edge, LoadReport) {
	var report LoadReport
	edges := make([]*models.Edge, 0, len(entries))
	for _, id := range sortedKeys(entries) {
		e, err := es.Load(id)
		switch {
		case err == nil:
			edges = append(edges, e)
			report.Loaded++
		case errors.Is(err, errEdgeNotFound):
			es.logger.Debug("edge missing on disk, dropped", "id", id)
			report.Skipped++
		default:
			es.logger.Warn("quarantining unreadable edge", "id", id, "err", err)
			quarantine(es.fs, es.dir, es.edgeDir(id), id, es.logger)
			report.Quarantined++
		}
	}
	return edges, report
}

// CancelAll drops every pending edge write.
func (es *EdgeStore) CancelAll() {
	es.writer.CancelAll()
}

// Pending returns the number of outstanding edge writes.
func (es *EdgeStore) Pending() int {
	return es.writer.Pending()
}

func (es *EdgeStore) writeJoined(id string, payload []byte) error {
	dir := es.edgeDir(id)
	if err := es.fs.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create edge directory: %w", err)
	}
	if err := es.fs.WriteFile(filepath.Join(dir, joinedFile), payload); err != nil {
		return fmt.Errorf("failed to write edge: %w", err)
	}
	return nil
}

func (es *EdgeStore) edgeDir(id string) string {
	return filepath.Join(es.dir, edgesDir, id)
}

// quarantine moves a corrupt entity folder aside instead of discarding
// it, so the data survives for manual recovery.
func quarantine(fsys FS, canvasDir, entityDir, id string, logger *slog.Logger) {
	dst := filepath.Join(canvasDir, filepath.FromSlash(quarantineDir))
	if err := fsys.MkdirAll(dst); err != nil {
		logger.Error("failed to create quarantine directory", "err", err)
		return
	}
	target := filepath.Join(dst, fmt.Sprintf("%s.%d", id, time.Now().Unix()))
	if err := fsys.Rename(entityDir, target); err != nil {
		logger.Error("failed to quarantine entity", "id", id, "err", err)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
