// Package bundle packs a canvas folder into a portable directory: the
// payload files plus a bundle.yaml manifest carrying a BLAKE2b digest per
// file. Import verifies every digest before a single byte is copied, so a
// tampered or truncated bundle is refused whole.
package bundle

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name at the bundle root.
const ManifestFile = "bundle.yaml"

// Format tags the bundle layout. Unknown formats are refused on import.
const Format = "mosaic-bundle/1"

// stateRel is the UI state file, excluded from bundles (non-authoritative).
const stateRel = ".mosaic/state.json"

// quarantineRel is crash debris moved aside by the loader, also excluded.
const quarantineRel = ".mosaic/quarantine"

// ErrDigestMismatch reports a payload file whose content does not match
// the manifest.
var ErrDigestMismatch = errors.New("bundle digest mismatch")

// Canvas identifies the exported canvas inside the manifest. The full
// metadata travels in the payload's .mosaic/meta.json; this section exists
// so a bundle can be described without unpacking it.
type Canvas struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// File is one payload entry.
type File struct {
	// Path is relative to the bundle root, slash-separated.
	Path string `yaml:"path"`
	Size int64  `yaml:"size"`
	// Digest is the hex BLAKE2b-256 of the file content.
	Digest string `yaml:"digest"`
}

// Manifest is the bundle.yaml document.
type Manifest struct {
	Format     string    `yaml:"format"`
	ExportedAt time.Time `yaml:"exportedAt"`
	Canvas     Canvas    `yaml:"canvas"`
	Files      []File    `yaml:"files"`
}

// Export copies the canvas at srcDir into destDir and writes the manifest.
// destDir is created; exporting over an existing bundle is refused. The UI
// state file and quarantined entities stay behind.
func Export(srcDir, destDir string, canvas Canvas) (*Manifest, error) {
	if _, err := os.Stat(filepath.Join(destDir, ManifestFile)); err == nil {
		return nil, fmt.Errorf("bundle already exists at %s", destDir)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil { //nolint:gosec // G301: bundle directories
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}

	man := &Manifest{Format: Format, ExportedAt: time.Now().UTC(), Canvas: canvas}
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel) {
			return nil
		}

		data, err := os.ReadFile(p) //nolint:gosec // G304: path comes from the walk
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if err := writeFileAt(destDir, rel, data); err != nil {
			return err
		}
		man.Files = append(man.Files, File{Path: rel, Size: int64(len(data)), Digest: digest(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export canvas: %w", err)
	}
	sort.Slice(man.Files, func(i, j int) bool { return man.Files[i].Path < man.Files[j].Path })

	data, err := yaml.Marshal(man)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, ManifestFile), data, 0o644); err != nil { //nolint:gosec // G306: bundle files are not secrets
		return nil, fmt.Errorf("failed to write bundle manifest: %w", err)
	}
	return man, nil
}

// Load reads and validates bundleDir/bundle.yaml without touching the
// payload.
func Load(bundleDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(bundleDir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle manifest: %w", err)
	}
	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("failed to parse bundle manifest: %w", err)
	}
	if err := man.validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle manifest: %w", err)
	}
	return &man, nil
}

// Extract verifies every payload file against the manifest and copies the
// payload into targetDir. Verification happens in full before the first
// copy, so a bad bundle leaves targetDir untouched.
func Extract(bundleDir, targetDir string) (*Manifest, error) {
	man, err := Load(bundleDir)
	if err != nil {
		return nil, err
	}

	contents := make(map[string][]byte, len(man.Files))
	for _, f := range man.Files {
		data, err := os.ReadFile(filepath.Join(bundleDir, filepath.FromSlash(f.Path))) //nolint:gosec // G304: paths validated against the manifest
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle file %s: %w", f.Path, err)
		}
		if got := digest(data); got != f.Digest {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, f.Path)
		}
		contents[f.Path] = data
	}

	for _, f := range man.Files {
		if err := writeFileAt(targetDir, f.Path, contents[f.Path]); err != nil {
			return nil, err
		}
	}
	return man, nil
}

func (m *Manifest) validate() error {
	if m.Format != Format {
		return fmt.Errorf("unsupported format %q", m.Format)
	}
	if m.Canvas.Name == "" {
		return errors.New("canvas name is required")
	}
	for i, f := range m.Files {
		if f.Path == "" {
			return fmt.Errorf("file %d: path is required", i)
		}
		clean := path.Clean(f.Path)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			return fmt.Errorf("file %d: path %q escapes the bundle", i, f.Path)
		}
		if len(f.Digest) != blake2b.Size256*2 {
			return fmt.Errorf("file %s: malformed digest", f.Path)
		}
	}
	return nil
}

func excluded(rel string) bool {
	return rel == stateRel || rel == ManifestFile ||
		strings.HasPrefix(rel, quarantineRel+"/")
}

func writeFileAt(root, rel string, data []byte) error {
	target := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: bundle directories
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil { //nolint:gosec // G306: bundle files are not secrets
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return nil
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
