package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
	"github.com/mosaicflow/mosaic/internal/models"
	"github.com/mosaicflow/mosaic/internal/storage/canvas"
	"github.com/mosaicflow/mosaic/internal/storage/vcs"
)

// newTestVault creates a vault and returns its canvas service. The vault
// ships with a default "Untitled" canvas.
func newTestVault(t *testing.T) (string, *CanvasService) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vault")
	svc := NewService(nil)
	if _, err := svc.Create(dir, "Test Vault", ""); err != nil {
		t.Fatalf("create vault: %v", err)
	}
	cs, err := svc.Canvases(dir, nil)
	if err != nil {
		t.Fatalf("canvases: %v", err)
	}
	return dir, cs
}

func TestCreateCanvasScaffoldAndCollision(t *testing.T) {
	dir, cs := newTestVault(t)

	info, err := cs.Create("My/Canvas: Test", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	folder := filepath.Join(dir, "canvases", "My_Canvas_ Test")
	if info.Path != folder {
		t.Errorf("path = %s, want %s", info.Path, folder)
	}
	for _, sub := range []string{".mosaic", "nodes", "edges", "images", "attachments"} {
		if st, err := os.Stat(filepath.Join(folder, sub)); err != nil || !st.IsDir() {
			t.Errorf("missing scaffold dir %s", sub)
		}
	}
	if _, err := os.Stat(filepath.Join(folder, "workspace.json")); err != nil {
		t.Error("empty workspace manifest not written")
	}
	if _, err := os.Stat(filepath.Join(folder, ".mosaic", "state.json")); err != nil {
		t.Error("default state not written")
	}

	again, err := cs.Create("My/Canvas: Test", "")
	if err != nil {
		t.Fatalf("collision create: %v", err)
	}
	if filepath.Base(again.Path) != "My_Canvas_ Test_1" {
		t.Errorf("collision folder = %s", filepath.Base(again.Path))
	}
	if again.ID == info.ID {
		t.Error("collision canvas shares an id")
	}
}

func TestOpenCanvasRoundTrip(t *testing.T) {
	_, cs := newTestVault(t)
	if _, err := cs.Create("Board", "scratch"); err != nil {
		t.Fatal(err)
	}

	sess, info, err := cs.Open("Board")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.Name != "Board" || info.Description != "scratch" {
		t.Errorf("info = %+v", info.CanvasMeta)
	}
	n, err := sess.CreateNode(&models.Node{Type: models.NodeNote, Data: map[string]any{"content": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()

	sess2, _, err := cs.Open("Board")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer sess2.Close()
	nodes := sess2.Nodes()
	if len(nodes) != 1 || nodes[0].ID != n.ID {
		t.Errorf("nodes after reopen = %+v", nodes)
	}
}

func TestOpenMigratesV1Canvas(t *testing.T) {
	dir, cs := newTestVault(t)
	folder := filepath.Join(dir, "canvases", "Legacy")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	legacyMeta := `{"id": "c-legacy", "name": "Legacy Board", "created_at": "2023-06-01T00:00:00Z"}`
	if err := os.WriteFile(filepath.Join(folder, "canvas.json"), []byte(legacyMeta), 0o644); err != nil {
		t.Fatal(err)
	}
	ws := `{
  "metadata": {"version": "1.0.0", "name": "Legacy Board"},
  "nodes": {"n1": {"id": "n1", "type": "note", "position": {"x": 0, "y": 0}, "data": {"content": "old"}}},
  "edges": {}
}`
	if err := os.WriteFile(filepath.Join(folder, "workspace.json"), []byte(ws), 0o644); err != nil {
		t.Fatal(err)
	}

	sess, info, err := cs.Open("Legacy")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.ID != "c-legacy" || info.Name != "Legacy Board" {
		t.Errorf("meta = %+v", info.CanvasMeta)
	}
	if info.CreatedAt.Year() != 2023 {
		t.Errorf("createdAt not carried: %v", info.CreatedAt)
	}
	if !sess.Migrated() {
		t.Error("workspace migration not reported")
	}
	if got := len(sess.Nodes()); got != 1 {
		t.Errorf("nodes = %d", got)
	}
	sess.Close()

	if _, err := os.Stat(filepath.Join(folder, ".mosaic", "meta.json")); err != nil {
		t.Error("meta.json not seeded")
	}
	if _, err := os.Stat(filepath.Join(folder, ".mosaic", "state.json")); err != nil {
		t.Error("state.json not seeded")
	}

	// Second open must not migrate again.
	sess2, _, err := cs.Open("Legacy")
	if err != nil {
		t.Fatal(err)
	}
	defer sess2.Close()
	if sess2.Migrated() {
		t.Error("second open migrated again")
	}
}

func TestListSortsAndSkips(t *testing.T) {
	dir, cs := newTestVault(t)
	for i, name := range []string{"Alpha", "Beta", "Gamma"} {
		info, err := cs.Create(name, "")
		if err != nil {
			t.Fatal(err)
		}
		// Space the timestamps so the sort is deterministic.
		meta := info.CanvasMeta
		meta.UpdatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		if err := canvas.SaveMeta(canvas.OSFS{}, info.Path, &meta); err != nil {
			t.Fatal(err)
		}
	}
	// A folder with a corrupt meta must be skipped, not fatal.
	broken := filepath.Join(dir, "canvases", "Broken", ".mosaic")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(broken, "meta.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	infos, err := cs.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// Untitled plus the three created above; Broken skipped.
	if len(infos) != 4 {
		t.Fatalf("list length = %d, want 4", len(infos))
	}
	if infos[0].Name != "Gamma" || infos[1].Name != "Beta" || infos[2].Name != "Alpha" {
		t.Errorf("order = %s, %s, %s", infos[0].Name, infos[1].Name, infos[2].Name)
	}
}

func TestRenameCanvasMovesFolder(t *testing.T) {
	dir, cs := newTestVault(t)
	if _, err := cs.Create("Old Name", ""); err != nil {
		t.Fatal(err)
	}

	info, err := cs.Rename("Old Name", "New Name")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if info.Name != "New Name" {
		t.Errorf("name = %s", info.Name)
	}
	if filepath.Base(info.Path) != "New Name" {
		t.Errorf("folder = %s", filepath.Base(info.Path))
	}
	if _, err := os.Stat(filepath.Join(dir, "canvases", "Old Name")); !os.IsNotExist(err) {
		t.Error("old folder still present")
	}

	// Renaming onto an existing folder keeps the old folder.
	if _, err := cs.Create("Target", ""); err != nil {
		t.Fatal(err)
	}
	info, err = cs.Rename("New Name", "Target")
	if err != nil {
		t.Fatalf("conflicting rename: %v", err)
	}
	if filepath.Base(info.Path) != "New Name" {
		t.Errorf("conflicting rename moved folder to %s", filepath.Base(info.Path))
	}
	if info.Name != "Target" {
		t.Errorf("display name = %s", info.Name)
	}
}

func TestDeleteCanvas(t *testing.T) {
	dir, cs := newTestVault(t)
	created, err := cs.Create("Doomed", "")
	if err != nil {
		t.Fatal(err)
	}

	id, err := cs.Delete("Doomed")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if id != created.ID {
		t.Errorf("returned id = %s, want %s", id, created.ID)
	}
	if _, err := os.Stat(filepath.Join(dir, "canvases", "Doomed")); !os.IsNotExist(err) {
		t.Error("folder still present")
	}
	if _, err := cs.Delete("Doomed"); apperrors.CodeOf(err) != apperrors.CodeCanvasNotFound {
		t.Errorf("second delete err = %v", err)
	}
}

func TestUpdateTagsAndDescription(t *testing.T) {
	_, cs := newTestVault(t)
	if _, err := cs.Create("Tagged", ""); err != nil {
		t.Fatal(err)
	}

	info, err := cs.UpdateTags("Tagged", []string{"work", "ideas"})
	if err != nil {
		t.Fatalf("UpdateTags: %v", err)
	}
	if len(info.Tags) != 2 || info.Tags[0] != "work" {
		t.Errorf("tags = %v", info.Tags)
	}
	info, err = cs.UpdateDescription("Tagged", "described")
	if err != nil {
		t.Fatalf("UpdateDescription: %v", err)
	}
	if info.Description != "described" {
		t.Errorf("description = %s", info.Description)
	}

	// Both survive a meta reload.
	sess, reread, err := cs.Open("Tagged")
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()
	if len(reread.Tags) != 2 || reread.Description != "described" {
		t.Errorf("persisted meta = %+v", reread.CanvasMeta)
	}
}

func TestStatePassthrough(t *testing.T) {
	_, cs := newTestVault(t)
	if _, err := cs.Create("Stateful", ""); err != nil {
		t.Fatal(err)
	}

	st, err := cs.LoadState("Stateful")
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	st.Viewport = models.Viewport{X: 5, Y: 6, Zoom: 2}
	st.SelectedNodes = []string{"n1"}
	if err := cs.SaveState("Stateful", st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	got, err := cs.LoadState("Stateful")
	if err != nil {
		t.Fatal(err)
	}
	if got.Viewport != st.Viewport || len(got.SelectedNodes) != 1 {
		t.Errorf("state = %+v", got)
	}
}

func TestResolveByDisplayName(t *testing.T) {
	_, cs := newTestVault(t)
	info, err := cs.Create("Name With/Slash", "")
	if err != nil {
		t.Fatal(err)
	}
	// Folder is sanitized, display name is not; both must resolve.
	byDisplay, err := cs.resolve("Name With/Slash")
	if err != nil {
		t.Fatalf("resolve by display name: %v", err)
	}
	if byDisplay != info.Path {
		t.Errorf("resolved %s, want %s", byDisplay, info.Path)
	}
	if _, err := cs.resolve("No Such Canvas"); apperrors.CodeOf(err) != apperrors.CodeCanvasNotFound {
		t.Errorf("missing err = %v", err)
	}
}

func TestExportImportBundleRoundTrip(t *testing.T) {
	_, cs := newTestVault(t)
	if _, err := cs.Create("Source", "shared board"); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.UpdateTags("Source", []string{"shared"}); err != nil {
		t.Fatal(err)
	}
	sess, src, err := cs.Open("Source")
	if err != nil {
		t.Fatal(err)
	}
	n, err := sess.CreateNode(&models.Node{Type: models.NodeNote, Data: map[string]any{"content": "travels"}})
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()

	dest := filepath.Join(t.TempDir(), "bundle")
	man, err := cs.ExportBundle("Source", dest)
	if err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}
	if man.Canvas.ID != src.ID || man.Canvas.Name != "Source" || man.Canvas.Description != "shared board" {
		t.Errorf("manifest canvas = %+v", man.Canvas)
	}
	if _, err := os.Stat(filepath.Join(dest, ".mosaic", "meta.json")); err != nil {
		t.Error("meta.json missing from bundle")
	}
	if _, err := os.Stat(filepath.Join(dest, ".mosaic", "state.json")); !os.IsNotExist(err) {
		t.Error("state.json leaked into bundle")
	}

	imported, err := cs.ImportBundle(dest)
	if err != nil {
		t.Fatalf("ImportBundle: %v", err)
	}
	if imported.ID == src.ID {
		t.Error("imported canvas kept the source id")
	}
	if imported.Description != "shared board" || len(imported.Tags) != 1 {
		t.Errorf("imported meta = %+v", imported.CanvasMeta)
	}
	// The source folder is taken, so the import lands next to it.
	if filepath.Base(imported.Path) != "Source_1" {
		t.Errorf("imported folder = %s", filepath.Base(imported.Path))
	}

	sess2, _, err := cs.Open("Source_1")
	if err != nil {
		t.Fatalf("open imported: %v", err)
	}
	defer sess2.Close()
	nodes := sess2.Nodes()
	if len(nodes) != 1 || nodes[0].ID != n.ID {
		t.Errorf("imported nodes = %+v", nodes)
	}
}

func TestVersionLogHook(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vault")
	svc := NewService(nil)
	if _, err := svc.Create(dir, "Versioned", ""); err != nil {
		t.Fatal(err)
	}
	log, err := vcs.OpenGit(dir, "Mosaic", "mosaic@localhost")
	if err != nil {
		t.Fatalf("OpenGit: %v", err)
	}
	defer log.Close()
	cs, err := svc.Canvases(dir, log)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cs.Create("Board", ""); err != nil {
		t.Fatal(err)
	}
	commits, err := log.History(t.Context(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(commits))
	}
	if commits[0].Subject != "Create canvas Board" {
		t.Errorf("subject = %q", commits[0].Subject)
	}

	if _, err := cs.Delete("Board"); err != nil {
		t.Fatal(err)
	}
	commits, err = log.History(t.Context(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("commits after delete = %d, want 2", len(commits))
	}
	if commits[0].Subject != "Delete canvas Board" {
		t.Errorf("subject = %q", commits[0].Subject)
	}
}
