// Package session owns the in-memory model of one open canvas: the live
// node and edge slices, the undo/redo history, and the persistence services
// that mirror every mutation to disk. A Session is created per canvas and
// serializes all access with a mutex; nothing in here is a singleton.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
	"github.com/mosaicflow/mosaic/internal/storage/canvas"
)

// historyLimit bounds the undo stack. The oldest snapshot is dropped
// when a new push would exceed it.
const historyLimit = 50

// Geometry used when grouping nodes that never had an explicit size.
const (
	groupPadding       = 40
	fallbackNodeWidth  = 180
	fallbackNodeHeight = 120
)

// Options configures a Session. Zero value is valid.
type Options struct {
	// FS overrides the filesystem, for tests. Defaults to the real one.
	FS canvas.FS
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// snapshot is one history entry: a deep copy of both entity slices.
type snapshot struct {
	nodes []*models.Node
	edges []*models.Edge
}

// Session is the live state of one open canvas.
type Session struct {
	dir    string
	fs     canvas.FS
	logger *slog.Logger

	nodes    *canvas.NodeStore
	edges    *canvas.EdgeStore
	manifest *canvas.Manager

	mu        sync.Mutex
	meta      models.WorkspaceMeta
	nodeList  []*models.Node
	edgeList  []*models.Edge
	undoStack []snapshot
	redoStack []snapshot
	// restoring suppresses history pushes while undo/redo replays state.
	restoring bool

	report   canvas.LoadReport
	migrated bool
}

// Open builds the persistence services for the canvas folder at dir.
// It performs no I/O; call LoadWorkspace to read the manifest.
func Open(dir string, opts Options) *Session {
	fsys := opts.FS
	if fsys == nil {
		fsys = canvas.OSFS{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ns := canvas.NewNodeStore(dir, fsys, logger)
	es := canvas.NewEdgeStore(dir, fsys, logger)
	return &Session{
		dir:      dir,
		fs:       fsys,
		logger:   logger,
		nodes:    ns,
		edges:    es,
		manifest: canvas.NewManager(dir, fsys, ns, es, logger),
		meta:     *models.NewWorkspaceMeta(""),
	}
}

// Close cancels every pending debounced write without flushing it. Whatever
// reached disk before Close stays; coalesced edits that never fired are
// dropped, matching the shutdown contract.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes.CancelAll()
	s.edges.CancelAll()
}

// Dir returns the canvas folder this session persists into.
func (s *Session) Dir() string {
	return s.dir
}

// LoadWorkspace reads the manifest and replaces the in-memory model.
// The bool reports whether a manifest existed; a fresh canvas folder
// yields an empty workspace and false. Loading clears the history.
func (s *Session) LoadWorkspace() (bool, error) {
	ws, err := s.manifest.Load()
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = ws.Meta
	s.nodeList = sortParentsFirst(ws.Nodes)
	s.edgeList = ws.Edges
	s.report = ws.Report
	s.migrated = ws.Migrated
	s.undoStack = nil
	s.redoStack = nil
	return ws.Found, nil
}

// SaveManifest writes the workspace index for the current model.
func (s *Session) SaveManifest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest.Save(&s.meta, s.nodeList, s.edgeList)
}

// Nodes returns a deep copy of the node slice in parent-before-child order.
func (s *Session) Nodes() []*models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneNodes(s.nodeList)
}

// Edges returns a deep copy of the edge slice.
func (s *Session) Edges() []*models.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneEdges(s.edgeList)
}

// Meta returns a copy of the workspace metadata.
func (s *Session) Meta() models.WorkspaceMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// Report returns the load report from the last LoadWorkspace.
func (s *Session) Report() canvas.LoadReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// Migrated reports whether the last load performed a format migration.
func (s *Session) Migrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.migrated
}

// Pending counts debounced writes not yet flushed, across both stores.
func (s *Session) Pending() int {
	return s.nodes.Pending() + s.edges.Pending()
}

// UpdateViewport stores the visible pan/zoom and persists the manifest.
// Not a history operation.
func (s *Session) UpdateViewport(v models.Viewport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Viewport = v
	return s.manifest.Save(&s.meta, s.nodeList, s.edgeList)
}

// UpdateSettings replaces the workspace settings and persists the manifest.
func (s *Session) UpdateSettings(set models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.Settings = set
	return s.manifest.Save(&s.meta, s.nodeList, s.edgeList)
}

// CreateNode adds a node to the model and writes its files immediately,
// so a crash right after creation cannot lose the entity. Empty IDs are
// assigned. Returns the stored copy.
func (s *Session) CreateNode(n *models.Node) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !n.Type.Valid() {
		return nil, apperrors.Newf(apperrors.CodeInvalidFormat, "unknown node type %q", n.Type)
	}
	stored := n.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if s.findNode(stored.ID) >= 0 {
		return nil, apperrors.AlreadyExists("node " + stored.ID)
	}
	if stored.Data == nil {
		stored.Data = map[string]any{}
	}
	if stored.ZIndex == 0 {
		stored.ZIndex = models.DefaultZIndex
	}
	if stored.ParentID != "" {
		if err := s.checkParent(stored.ParentID); err != nil {
			return nil, err
		}
		stored.Extent = "parent"
	}

	s.pushHistory()
	s.nodeList = append(s.nodeList, stored)
	if stored.ParentID != "" {
		s.nodeList = sortParentsFirst(s.nodeList)
	}
	err := s.nodes.SaveImmediate(stored)
	s.saveManifestLogged()
	return stored.Clone(), err
}

// UpdateNode replaces a node record wholesale. Geometry and data changes
// ride the debounced writers; no history entry is pushed, so in-progress
// gestures can stream through here freely.
func (s *Session) UpdateNode(n *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findNode(n.ID)
	if i < 0 {
		return apperrors.NotFound("node " + n.ID)
	}
	prev := s.nodeList[i]
	stored := n.Clone()
	stored.Type = prev.Type
	if stored.Data == nil {
		stored.Data = map[string]any{}
	}
	if stored.ZIndex == 0 {
		stored.ZIndex = models.DefaultZIndex
	}
	if stored.ParentID != "" && stored.ParentID != prev.ParentID {
		if err := s.checkParent(stored.ParentID); err != nil {
			return err
		}
		stored.Extent = "parent"
	}
	s.nodeList[i] = stored
	if stored.ParentID != prev.ParentID {
		s.nodeList = sortParentsFirst(s.nodeList)
	}
	return s.nodes.Save(stored)
}

// UpdateNodeData merges a partial data patch into a node. Content edits
// land here on every keystroke; the store coalesces them.
func (s *Session) UpdateNodeData(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findNode(id)
	if i < 0 {
		return apperrors.NotFound("node " + id)
	}
	n := s.nodeList[i]
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	for k, v := range models.CloneData(patch) {
		n.Data[k] = v
	}
	return s.nodes.Save(n)
}

// MoveNode commits a drag gesture: the pre-drag state is pushed to
// history, then the final position is applied and scheduled for write.
func (s *Session) MoveNode(id string, pos models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findNode(id)
	if i < 0 {
		return apperrors.NotFound("node " + id)
	}
	s.pushHistory()
	s.nodeList[i].Position = pos
	return s.nodes.Save(s.nodeList[i])
}

// ResizeNode commits a resize gesture, pushing history like MoveNode.
func (s *Session) ResizeNode(id string, width, height float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findNode(id)
	if i < 0 {
		return apperrors.NotFound("node " + id)
	}
	s.pushHistory()
	s.nodeList[i].Width = width
	s.nodeList[i].Height = height
	return s.nodes.Save(s.nodeList[i])
}

// DeleteNode removes a node and every edge touching it, as one history
// entry. Pending writes are cancelled before the files are removed.
func (s *Session) DeleteNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findNode(id) < 0 {
		return apperrors.NotFound("node " + id)
	}
	s.pushHistory()
	if err := s.removeNodeLocked(id); err != nil {
		return err
	}
	s.saveManifestLogged()
	return nil
}

// DeleteNodes removes several nodes and their connected edges under a
// single history entry. Unknown IDs are skipped.
func (s *Session) DeleteNodes(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []string
	for _, id := range ids {
		if s.findNode(id) >= 0 {
			found = append(found, id)
		}
	}
	if len(found) == 0 {
		return nil
	}
	s.pushHistory()
	var firstErr error
	for _, id := range found {
		if s.findNode(id) < 0 {
			// Already cascaded away by an earlier deletion.
			continue
		}
		if err := s.removeNodeLocked(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.saveManifestLogged()
	return firstErr
}

// CreateEdge connects two existing nodes and writes the edge immediately.
func (s *Session) CreateEdge(e *models.Edge) (*models.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findNode(e.Source) < 0 {
		return nil, apperrors.NotFound("source node " + e.Source)
	}
	if s.findNode(e.Target) < 0 {
		return nil, apperrors.NotFound("target node " + e.Target)
	}
	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if s.findEdge(stored.ID) >= 0 {
		return nil, apperrors.AlreadyExists("edge " + stored.ID)
	}
	if stored.Type == "" {
		stored.Type = models.EdgeDefault
	}
	canvas.DeriveEdgeStyle(stored)

	s.pushHistory()
	s.edgeList = append(s.edgeList, stored)
	err := s.edges.SaveImmediate(stored)
	s.saveManifestLogged()
	return stored.Clone(), err
}

// UpdateEdge replaces an edge record and schedules its write. Style is
// rederived from data so stale styles cannot persist.
func (s *Session) UpdateEdge(e *models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findEdge(e.ID)
	if i < 0 {
		return apperrors.NotFound("edge " + e.ID)
	}
	stored := e.Clone()
	if stored.Type == "" {
		stored.Type = models.EdgeDefault
	}
	canvas.DeriveEdgeStyle(stored)
	s.edgeList[i] = stored
	return s.edges.Save(stored)
}

// DeleteEdge removes one edge as a history entry of its own.
func (s *Session) DeleteEdge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findEdge(id)
	if i < 0 {
		return apperrors.NotFound("edge " + id)
	}
	s.pushHistory()
	s.edgeList = append(s.edgeList[:i], s.edgeList[i+1:]...)
	if err := s.edges.Delete(id); err != nil {
		return err
	}
	s.saveManifestLogged()
	return nil
}

// SetNodes replaces the whole node slice, diffing against the previous
// one: vanished nodes are deleted from disk, newcomers are written
// immediately, survivors are rescheduled. One history entry.
func (s *Session) SetNodes(nodes []*models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := sortParentsFirst(models.CloneNodes(nodes))
	for _, n := range next {
		if !n.Type.Valid() {
			return apperrors.Newf(apperrors.CodeInvalidFormat, "unknown node type %q", n.Type)
		}
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		if n.ZIndex == 0 {
			n.ZIndex = models.DefaultZIndex
		}
	}
	s.pushHistory()
	prev := s.nodeList
	s.nodeList = next
	s.persistNodeDiff(prev, next)
	s.saveManifestLogged()
	return nil
}

// SetEdges replaces the whole edge slice, mirroring SetNodes.
func (s *Session) SetEdges(edges []*models.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := models.CloneEdges(edges)
	for _, e := range next {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Type == "" {
			e.Type = models.EdgeDefault
		}
		canvas.DeriveEdgeStyle(e)
	}
	s.pushHistory()
	prev := s.edgeList
	s.edgeList = next
	s.persistEdgeDiff(prev, next)
	s.saveManifestLogged()
	return nil
}

// GroupNodes wraps the given nodes in a new group node sized to their
// bounding box. Members become children with parent-relative positions.
func (s *Session) GroupNodes(ids []string) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidFormat, "no nodes to group")
	}
	members := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		i := s.findNode(id)
		if i < 0 {
			return nil, apperrors.NotFound("node " + id)
		}
		members = append(members, s.nodeList[i])
	}

	s.pushHistory()
	bounds := boundingBox(members)
	group := &models.Node{
		ID:       uuid.NewString(),
		Type:     models.NodeGroup,
		Position: models.Position{X: bounds.minX - groupPadding, Y: bounds.minY - groupPadding},
		Width:    bounds.maxX - bounds.minX + 2*groupPadding,
		Height:   bounds.maxY - bounds.minY + 2*groupPadding,
		ZIndex:   models.DefaultZIndex,
		Data:     map[string]any{"label": "Group"},
	}
	for _, m := range members {
		m.ParentID = group.ID
		m.Extent = "parent"
		m.Position.X -= group.Position.X
		m.Position.Y -= group.Position.Y
	}
	s.nodeList = sortParentsFirst(append(s.nodeList, group))

	groupErr := s.nodes.SaveImmediate(group)
	for _, m := range members {
		if err := s.nodes.Save(m); err != nil {
			s.logger.Error("failed to schedule group member write", "id", m.ID, "err", err)
		}
	}
	s.saveManifestLogged()
	return group.Clone(), groupErr
}

// UngroupNodes dissolves a group: children regain absolute positions and
// the group node itself is deleted, all as one history entry.
func (s *Session) UngroupNodes(groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findNode(groupID)
	if i < 0 {
		return apperrors.NotFound("node " + groupID)
	}
	group := s.nodeList[i]
	if group.Type != models.NodeGroup {
		return apperrors.Newf(apperrors.CodeInvalidFormat, "node %s is not a group", groupID)
	}
	s.pushHistory()
	for _, n := range s.nodeList {
		if n.ParentID != groupID {
			continue
		}
		n.ParentID = ""
		n.Extent = ""
		n.Position.X += group.Position.X
		n.Position.Y += group.Position.Y
		if err := s.nodes.Save(n); err != nil {
			s.logger.Error("failed to schedule ungrouped child write", "id", n.ID, "err", err)
		}
	}
	if err := s.removeNodeLocked(groupID); err != nil {
		return err
	}
	s.saveManifestLogged()
	return nil
}

// Undo restores the previous snapshot and replays the normal persistence
// path for the restored state. Returns false when the stack is empty.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.undoStack) == 0 {
		return false
	}
	s.restoring = true
	defer func() { s.restoring = false }()

	s.redoStack = append(s.redoStack, snapshot{
		nodes: models.CloneNodes(s.nodeList),
		edges: models.CloneEdges(s.edgeList),
	})
	top := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.restore(top)
	return true
}

// Redo reverses the last Undo. Returns false when the stack is empty.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.redoStack) == 0 {
		return false
	}
	s.restoring = true
	defer func() { s.restoring = false }()

	s.undoStack = append(s.undoStack, snapshot{
		nodes: models.CloneNodes(s.nodeList),
		edges: models.CloneEdges(s.edgeList),
	})
	top := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.restore(top)
	return true
}

// CanUndo reports whether an Undo would do anything.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack) > 0
}

// CanRedo reports whether a Redo would do anything.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.redoStack) > 0
}

// pushHistory snapshots the current state onto the undo stack and clears
// redo. Must be called BEFORE the mutation it guards. No-op during
// undo/redo replay.
func (s *Session) pushHistory() {
	if s.restoring {
		return
	}
	s.undoStack = append(s.undoStack, snapshot{
		nodes: models.CloneNodes(s.nodeList),
		edges: models.CloneEdges(s.edgeList),
	})
	if len(s.undoStack) > historyLimit {
		s.undoStack = s.undoStack[1:]
	}
	s.redoStack = nil
}

// restore swaps the live slices for snap and re-runs persistence: deletes
// for entities absent from snap, scheduled saves for the rest, then a
// manifest write. The snapshot leaves its stack first, so taking
// ownership of its slices is safe.
func (s *Session) restore(snap snapshot) {
	prevNodes := s.nodeList
	prevEdges := s.edgeList
	s.nodeList = sortParentsFirst(snap.nodes)
	s.edgeList = snap.edges
	s.persistNodeDiff(prevNodes, s.nodeList)
	s.persistEdgeDiff(prevEdges, s.edgeList)
	s.saveManifestLogged()
}

// persistNodeDiff deletes files for nodes in prev but not next and
// schedules writes for everything in next. Failures are logged and the
// model keeps the restored state.
func (s *Session) persistNodeDiff(prev, next []*models.Node) {
	keep := make(map[string]bool, len(next))
	for _, n := range next {
		keep[n.ID] = true
	}
	for _, n := range prev {
		if keep[n.ID] {
			continue
		}
		if err := s.nodes.Delete(n.ID); err != nil {
			s.logger.Error("failed to delete node files", "id", n.ID, "err", err)
		}
	}
	for _, n := range next {
		if err := s.nodes.Save(n); err != nil {
			s.logger.Error("failed to schedule node write", "id", n.ID, "err", err)
		}
	}
}

func (s *Session) persistEdgeDiff(prev, next []*models.Edge) {
	keep := make(map[string]bool, len(next))
	for _, e := range next {
		keep[e.ID] = true
	}
	for _, e := range prev {
		if keep[e.ID] {
			continue
		}
		if err := s.edges.Delete(e.ID); err != nil {
			s.logger.Error("failed to delete edge files", "id", e.ID, "err", err)
		}
	}
	for _, e := range next {
		if err := s.edges.Save(e); err != nil {
			s.logger.Error("failed to schedule edge write", "id", e.ID, "err", err)
		}
	}
}

// removeNodeLocked drops one node and its connected edges from the model
// and from disk. Caller holds the mutex and owns the history entry.
func (s *Session) removeNodeLocked(id string) error {
	i := s.findNode(id)
	s.nodeList = append(s.nodeList[:i], s.nodeList[i+1:]...)

	kept := s.edgeList[:0]
	var firstErr error
	for _, e := range s.edgeList {
		if e.Source == id || e.Target == id {
			if err := s.edges.Delete(e.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, e)
	}
	s.edgeList = kept

	if err := s.nodes.Delete(id); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// saveManifestLogged writes the index after a structural change. A failed
// manifest write is logged, never rolled back; per-entity files are the
// source of truth for content.
func (s *Session) saveManifestLogged() {
	if err := s.manifest.Save(&s.meta, s.nodeList, s.edgeList); err != nil {
		s.logger.Error("failed to save workspace manifest", "dir", s.dir, "err", err)
	}
}

func (s *Session) findNode(id string) int {
	for i, n := range s.nodeList {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) findEdge(id string) int {
	for i, e := range s.edgeList {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// checkParent verifies that a parentId references an existing group node.
func (s *Session) checkParent(parentID string) error {
	i := s.findNode(parentID)
	if i < 0 {
		return apperrors.NotFound("parent node " + parentID)
	}
	if s.nodeList[i].Type != models.NodeGroup {
		return apperrors.Newf(apperrors.CodeInvalidFormat, "parent node %s is not a group", parentID)
	}
	return nil
}

type box struct {
	minX, minY, maxX, maxY float64
}

func boundingBox(nodes []*models.Node) box {
	b := box{minX: nodes[0].Position.X, minY: nodes[0].Position.Y}
	b.maxX = b.minX
	b.maxY = b.minY
	for _, n := range nodes {
		w := n.Width
		if w == 0 {
			w = fallbackNodeWidth
		}
		h := n.Height
		if h == 0 {
			h = fallbackNodeHeight
		}
		b.minX = min(b.minX, n.Position.X)
		b.minY = min(b.minY, n.Position.Y)
		b.maxX = max(b.maxX, n.Position.X+w)
		b.maxY = max(b.maxY, n.Position.Y+h)
	}
	return b
}

// sortParentsFirst reorders nodes so every group precedes its children,
// keeping relative order otherwise. Nodes whose parent is absent are
// treated as roots, so a dangling parentId never wedges the sort.
func sortParentsFirst(nodes []*models.Node) []*models.Node {
	if len(nodes) < 2 {
		return nodes
	}
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}
	out := make([]*models.Node, 0, len(nodes))
	placed := make(map[string]bool, len(nodes))
	remaining := nodes
	for len(remaining) > 0 {
		var deferred []*models.Node
		progressed := false
		for _, n := range remaining {
			if n.ParentID == "" || placed[n.ParentID] || !present[n.ParentID] {
				out = append(out, n)
				placed[n.ID] = true
				progressed = true
			} else {
				deferred = append(deferred, n)
			}
		}
		if !progressed {
			// Parent cycle. Emit the rest in original order.
			out = append(out, deferred...)
			break
		}
		remaining = deferred
	}
	return out
}
