package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func noteNode(content string) *models.Node {
	return &models.Node{
		Type:     models.NodeNote,
		Position: models.Position{X: 10, Y: 20},
		Data:     map[string]any{"content": content},
	}
}

func TestCreateNodeWritesImmediately(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})
	defer s.Close()

	n, err := s.CreateNode(noteNode("hello"))
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if n.ID == "" {
		t.Fatal("expected an assigned id")
	}
	nodeDir := filepath.Join(dir, "nodes", n.ID, "data")
	if !fileExists(filepath.Join(nodeDir, "properties.json")) {
		t.Error("properties.json not written on create")
	}
	if !fileExists(filepath.Join(nodeDir, "content")) {
		t.Error("content file not written on create")
	}
	raw, err := os.ReadFile(filepath.Join(dir, "workspace.json"))
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	if !strings.Contains(string(raw), n.ID) {
		t.Error("manifest does not index the new node")
	}
}

func TestLoadWorkspaceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})
	a, err := s.CreateNode(noteNode("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateNode(noteNode("b"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateEdge(&models.Edge{Source: a.ID, Target: b.ID}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2 := Open(dir, Options{})
	defer s2.Close()
	found, err := s2.LoadWorkspace()
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if !found {
		t.Error("expected an existing workspace")
	}
	if got := len(s2.Nodes()); got != 2 {
		t.Errorf("nodes = %d, want 2", got)
	}
	if got := len(s2.Edges()); got != 1 {
		t.Errorf("edges = %d, want 1", got)
	}
	if s2.CanUndo() {
		t.Error("history must be empty after load")
	}
}

func TestLoadWorkspaceFreshDir(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()
	found, err := s.LoadWorkspace()
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if found {
		t.Error("fresh dir reported as existing workspace")
	}
	if len(s.Nodes()) != 0 || len(s.Edges()) != 0 {
		t.Error("fresh workspace not empty")
	}
}

func TestUndoRedoSymmetry(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		n, err := s.CreateNode(noteNode(c))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}

	for i := 3; i > 0; i-- {
		if !s.Undo() {
			t.Fatalf("undo %d returned false", 4-i)
		}
	}
	if len(s.Nodes()) != 0 {
		t.Fatalf("after 3 undos nodes = %d, want 0", len(s.Nodes()))
	}
	if s.Undo() {
		t.Error("undo on empty stack returned true")
	}

	for i := 0; i < 3; i++ {
		if !s.Redo() {
			t.Fatalf("redo %d returned false", i+1)
		}
	}
	nodes := s.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("after 3 redos nodes = %d, want 3", len(nodes))
	}
	got := map[string]bool{}
	for _, n := range nodes {
		got[n.ID] = true
	}
	for _, id := range ids {
		if !got[id] {
			t.Errorf("node %s missing after redo", id)
		}
	}
	if s.Redo() {
		t.Error("redo on empty stack returned true")
	}
}

func TestUpdateNodeDataNotInHistory(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	n, err := s.CreateNode(noteNode("v1"))
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"v2", "v3", "v4"} {
		if err := s.UpdateNodeData(n.ID, map[string]any{"content": c}); err != nil {
			t.Fatal(err)
		}
	}
	if !s.Undo() {
		t.Fatal("undo returned false")
	}
	if len(s.Nodes()) != 0 {
		t.Error("content edits pushed history entries; one undo should reach the empty state")
	}
}

func TestMoveNodePushesHistory(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	n, err := s.CreateNode(noteNode("x"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MoveNode(n.ID, models.Position{X: 500, Y: 600}); err != nil {
		t.Fatal(err)
	}
	if !s.Undo() {
		t.Fatal("undo returned false")
	}
	nodes := s.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(nodes))
	}
	if nodes[0].Position.X != 10 || nodes[0].Position.Y != 20 {
		t.Errorf("position = %+v, want pre-drag 10,20", nodes[0].Position)
	}
	if !s.Redo() {
		t.Fatal("redo returned false")
	}
	if p := s.Nodes()[0].Position; p.X != 500 || p.Y != 600 {
		t.Errorf("position after redo = %+v", p)
	}
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})
	defer s.Close()

	a, err := s.CreateNode(noteNode("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateNode(noteNode("b"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := s.CreateEdge(&models.Edge{Source: a.ID, Target: b.ID})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteNode(a.ID); err != nil {
		t.Fatal(err)
	}
	if got := len(s.Nodes()); got != 1 {
		t.Errorf("nodes = %d, want 1", got)
	}
	if got := len(s.Edges()); got != 0 {
		t.Errorf("edges = %d, want 0 after cascade", got)
	}
	if fileExists(filepath.Join(dir, "nodes", a.ID)) {
		t.Error("deleted node folder still on disk")
	}
	if fileExists(filepath.Join(dir, "edges", e.ID)) {
		t.Error("cascaded edge folder still on disk")
	}

	// One undo restores both the node and its edge.
	if !s.Undo() {
		t.Fatal("undo returned false")
	}
	if got := len(s.Nodes()); got != 2 {
		t.Errorf("nodes after undo = %d, want 2", got)
	}
	if got := len(s.Edges()); got != 1 {
		t.Errorf("edges after undo = %d, want 1", got)
	}
	waitFor(t, func() bool {
		return fileExists(filepath.Join(dir, "nodes", a.ID, "data", "properties.json")) &&
			fileExists(filepath.Join(dir, "edges", e.ID, "joined.json"))
	})

	if !s.Redo() {
		t.Fatal("redo returned false")
	}
	if fileExists(filepath.Join(dir, "nodes", a.ID)) {
		t.Error("redo of delete left node folder on disk")
	}
}

func TestRedoClearedByNewMutation(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	if _, err := s.CreateNode(noteNode("a")); err != nil {
		t.Fatal(err)
	}
	if !s.Undo() {
		t.Fatal("undo returned false")
	}
	if !s.CanRedo() {
		t.Fatal("expected redo available after undo")
	}
	if _, err := s.CreateNode(noteNode("b")); err != nil {
		t.Fatal(err)
	}
	if s.CanRedo() {
		t.Error("new mutation must clear the redo stack")
	}
}

func TestHistoryCapacity(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	for i := 0; i < historyLimit+10; i++ {
		if _, err := s.CreateNode(noteNode("n")); err != nil {
			t.Fatal(err)
		}
	}
	undos := 0
	for s.Undo() {
		undos++
	}
	if undos != historyLimit {
		t.Errorf("undos = %d, want %d", undos, historyLimit)
	}
	if got := len(s.Nodes()); got != 10 {
		t.Errorf("nodes after exhausting history = %d, want 10", got)
	}
}

func TestGroupUngroupRoundTrip(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	n1, err := s.CreateNode(noteNode("a"))
	if err != nil {
		t.Fatal(err)
	}
	n2raw := noteNode("b")
	n2raw.Position = models.Position{X: 100, Y: 100}
	n2, err := s.CreateNode(n2raw)
	if err != nil {
		t.Fatal(err)
	}

	group, err := s.GroupNodes([]string{n1.ID, n2.ID})
	if err != nil {
		t.Fatalf("GroupNodes: %v", err)
	}
	nodes := s.Nodes()
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(nodes))
	}
	if nodes[0].ID != group.ID {
		t.Errorf("group must precede its children, got %s first", nodes[0].ID)
	}
	byID := map[string]*models.Node{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, id := range []string{n1.ID, n2.ID} {
		child := byID[id]
		if child.ParentID != group.ID {
			t.Errorf("child %s parent = %q, want group", id, child.ParentID)
		}
		if child.Extent != "parent" {
			t.Errorf("child %s extent = %q", id, child.Extent)
		}
	}
	// Positions became parent-relative.
	if p := byID[n1.ID].Position; p.X != 10-group.Position.X || p.Y != 20-group.Position.Y {
		t.Errorf("child relative position = %+v", p)
	}

	if err := s.UngroupNodes(group.ID); err != nil {
		t.Fatalf("UngroupNodes: %v", err)
	}
	nodes = s.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("nodes after ungroup = %d, want 2", len(nodes))
	}
	for _, n := range nodes {
		if n.ParentID != "" {
			t.Errorf("node %s still parented after ungroup", n.ID)
		}
	}
	byID = map[string]*models.Node{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	if p := byID[n1.ID].Position; p.X != 10 || p.Y != 20 {
		t.Errorf("absolute position not restored, got %+v", p)
	}
	if p := byID[n2.ID].Position; p.X != 100 || p.Y != 100 {
		t.Errorf("absolute position not restored, got %+v", p)
	}
}

func TestSetNodesReordersParentsFirst(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})
	defer s.Close()

	old, err := s.CreateNode(noteNode("gone"))
	if err != nil {
		t.Fatal(err)
	}

	group := &models.Node{ID: "g1", Type: models.NodeGroup, Data: map[string]any{"label": "G"}}
	child := &models.Node{
		ID:       "c1",
		Type:     models.NodeNote,
		ParentID: "g1",
		Extent:   "parent",
		Data:     map[string]any{"content": "child"},
	}
	// Child listed before its parent on purpose.
	if err := s.SetNodes([]*models.Node{child, group}); err != nil {
		t.Fatal(err)
	}
	nodes := s.Nodes()
	if nodes[0].ID != "g1" || nodes[1].ID != "c1" {
		t.Errorf("order = %s,%s want g1,c1", nodes[0].ID, nodes[1].ID)
	}
	if fileExists(filepath.Join(dir, "nodes", old.ID)) {
		t.Error("node dropped by SetNodes still has files")
	}
	waitFor(t, func() bool {
		return fileExists(filepath.Join(dir, "nodes", "g1", "data", "properties.json"))
	})
}

func TestCloseCancelsPendingWrites(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})

	n, err := s.CreateNode(noteNode("first"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateNodeData(n.ID, map[string]any{"content": "second"}); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if s.Pending() != 0 {
		t.Errorf("pending = %d after close", s.Pending())
	}
	time.Sleep(400 * time.Millisecond)
	raw, err := os.ReadFile(filepath.Join(dir, "nodes", n.ID, "data", "content"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "first" {
		t.Errorf("content = %q, want the pre-close %q", raw, "first")
	}
}

func TestCreateEdgeValidatesEndpoints(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	_, err := s.CreateEdge(&models.Edge{Source: "nope", Target: "also-nope"})
	if err == nil {
		t.Fatal("expected error for dangling endpoints")
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Errorf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeNotFound)
	}
}

func TestCreateNodeRejectsBadParent(t *testing.T) {
	s := Open(t.TempDir(), Options{})
	defer s.Close()

	plain, err := s.CreateNode(noteNode("plain"))
	if err != nil {
		t.Fatal(err)
	}
	bad := noteNode("child")
	bad.ParentID = plain.ID
	if _, err := s.CreateNode(bad); apperrors.CodeOf(err) != apperrors.CodeInvalidFormat {
		t.Errorf("parenting under a non-group node: err = %v", err)
	}
	orphan := noteNode("child")
	orphan.ParentID = "missing"
	if _, err := s.CreateNode(orphan); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Errorf("parenting under a missing node: err = %v", err)
	}
}

func TestUpdateViewportPersists(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, Options{})
	v := models.Viewport{X: -120, Y: 33, Zoom: 1.5}
	if err := s.UpdateViewport(v); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2 := Open(dir, Options{})
	defer s2.Close()
	if _, err := s2.LoadWorkspace(); err != nil {
		t.Fatal(err)
	}
	if got := s2.Meta().Viewport; got != v {
		t.Errorf("viewport = %+v, want %+v", got, v)
	}
}

func TestLoadWorkspaceMigratesLegacyDocument(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "metadata": {"version": "1.0.0", "name": "old board"},
  "nodes": {
    "n1": {"id": "n1", "type": "note", "position": {"x": 1, "y": 2}, "data": {"content": "hi"}}
  },
  "edges": {}
}`
	if err := os.WriteFile(filepath.Join(dir, "workspace.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	s := Open(dir, Options{})
	defer s.Close()
	found, err := s.LoadWorkspace()
	if err != nil {
		t.Fatalf("LoadWorkspace: %v", err)
	}
	if !found {
		t.Error("legacy document not reported as found")
	}
	if !s.Migrated() {
		t.Error("expected a migration")
	}
	if got := len(s.Nodes()); got != 1 {
		t.Errorf("nodes = %d, want 1", got)
	}
	if !fileExists(filepath.Join(dir, "nodes", "n1", "data", "properties.json")) {
		t.Error("migration did not write per-node files")
	}
	if s.CanUndo() {
		t.Error("history must start empty after a migrating load")
	}
}
