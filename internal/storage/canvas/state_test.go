package canvas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mosaicflow/mosaic/internal/models"
)

func TestLoadStateMissingYieldsDefaults(t *testing.T) {
	st := LoadState(OSFS{}, t.TempDir())
	if st.Viewport.Zoom != 1 || st.CanvasMode != models.CanvasModeSelect {
		t.Fatalf("unexpected defaults: %+v", st)
	}
	if st.SelectedNodes == nil || st.SelectedEdges == nil {
		t.Fatal("selections must be empty, not nil")
	}
}

func TestLoadStateCorruptYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".mosaic"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".mosaic", "state.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	st := LoadState(OSFS{}, dir)
	if st.Viewport.Zoom != 1 {
		t.Fatalf("corrupt state must yield defaults: %+v", st)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	dir := t.TempDir()
	st := models.DefaultUIState()
	st.Viewport = models.Viewport{X: 100, Y: -50, Zoom: 1.5}
	st.SelectedNodes = []string{"n1", "n2"}
	if err := SaveState(OSFS{}, dir, st); err != nil {
		t.Fatal(err)
	}

	loaded := LoadState(OSFS{}, dir)
	if loaded.Viewport != st.Viewport {
		t.Fatalf("viewport mismatch: %+v", loaded.Viewport)
	}
	if len(loaded.SelectedNodes) != 2 || loaded.SelectedNodes[0] != "n1" {
		t.Fatalf("selection mismatch: %+v", loaded.SelectedNodes)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("save must stamp the state")
	}
}
