package bundle

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeTree lays out a minimal canvas folder for export tests.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func canvasFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"workspace.json":                    `{"metadata":{"version":"2.0.0"}}`,
		"nodes/n1/data/content":             "hello",
		"nodes/n1/data/properties.json":     `{"position":{"x":1,"y":2}}`,
		"edges/e1/joined.json":              `{"id":"e1","source":"n1","target":"n1"}`,
		".mosaic/meta.json":                 `{"id":"c1","name":"Board"}`,
		".mosaic/state.json":                `{"viewport":{"zoom":1}}`,
		".mosaic/quarantine/x.123/prop.txt": "debris",
	})
	return dir
}

func TestExportExcludesStateAndQuarantine(t *testing.T) {
	src := canvasFixture(t)
	dest := filepath.Join(t.TempDir(), "bundle")

	man, err := Export(src, dest, Canvas{ID: "c1", Name: "Board"})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if man.Format != Format {
		t.Errorf("format = %q", man.Format)
	}
	if len(man.Files) != 5 {
		t.Fatalf("files = %d, want 5: %+v", len(man.Files), man.Files)
	}
	for _, f := range man.Files {
		if f.Path == ".mosaic/state.json" {
			t.Error("state.json must be excluded")
		}
		if f.Digest == "" || f.Size == 0 {
			t.Errorf("file %s missing digest or size", f.Path)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, ".mosaic", "state.json")); !os.IsNotExist(err) {
		t.Error("state.json copied into the bundle")
	}
	if _, err := os.Stat(filepath.Join(dest, ".mosaic", "quarantine")); !os.IsNotExist(err) {
		t.Error("quarantine copied into the bundle")
	}
	if _, err := os.Stat(filepath.Join(dest, ManifestFile)); err != nil {
		t.Errorf("bundle.yaml missing: %v", err)
	}
}

func TestExportRefusesExistingBundle(t *testing.T) {
	src := canvasFixture(t)
	dest := filepath.Join(t.TempDir(), "bundle")
	if _, err := Export(src, dest, Canvas{Name: "Board"}); err != nil {
		t.Fatal(err)
	}
	if _, err := Export(src, dest, Canvas{Name: "Board"}); err == nil {
		t.Fatal("expected error exporting over an existing bundle")
	}
}

func TestExtractRoundTrip(t *testing.T) {
	src := canvasFixture(t)
	dest := filepath.Join(t.TempDir(), "bundle")
	if _, err := Export(src, dest, Canvas{ID: "c1", Name: "Board", Tags: []string{"work"}}); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(t.TempDir(), "imported")
	man, err := Extract(dest, target)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if man.Canvas.Name != "Board" || len(man.Canvas.Tags) != 1 {
		t.Errorf("canvas section lost: %+v", man.Canvas)
	}

	raw, err := os.ReadFile(filepath.Join(target, "nodes", "n1", "data", "content"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "hello" {
		t.Errorf("content = %q", raw)
	}
	if _, err := os.Stat(filepath.Join(target, "workspace.json")); err != nil {
		t.Errorf("workspace.json missing: %v", err)
	}
}

func TestExtractRefusesTamperedPayload(t *testing.T) {
	src := canvasFixture(t)
	dest := filepath.Join(t.TempDir(), "bundle")
	if _, err := Export(src, dest, Canvas{Name: "Board"}); err != nil {
		t.Fatal(err)
	}
	tampered := filepath.Join(dest, "nodes", "n1", "data", "content")
	if err := os.WriteFile(tampered, []byte("evil"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(t.TempDir(), "imported")
	if _, err := Extract(dest, target); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("err = %v, want ErrDigestMismatch", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("failed extract must leave the target untouched")
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"wrong format", "format: zip/9\ncanvas:\n  name: X\n"},
		{"missing name", "format: mosaic-bundle/1\ncanvas:\n  id: c1\n"},
		{"escaping path", `format: mosaic-bundle/1
canvas:
  name: X
files:
  - path: ../../etc/passwd
    size: 1
    digest: ` + digest([]byte("x")) + "\n"},
		{"malformed digest", `format: mosaic-bundle/1
canvas:
  name: X
files:
  - path: a.txt
    size: 1
    digest: abc
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(dir); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
