package vault

import (
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	apperrors "github.com/mosaicflow/mosaic/internal/errors"
)

// digestLen is the number of hex digest characters used in file names.
// 64 bits of BLAKE2b is plenty for a single vault's attachment count.
const digestLen = 16

// Attachments is the content-addressed file store under
// <vault>/attachments/. Identical content stores once; attachment and
// image nodes reference files by the returned vault-relative path.
type Attachments struct {
	root string // vault root
}

// Store writes data under a name derived from its BLAKE2b-256 digest,
// keeping the original extension. Returns the vault-relative slash path.
// Storing the same content twice is a no-op returning the same path.
func (a *Attachments) Store(name string, data []byte) (string, error) {
	sum := blake2b.Sum256(data)
	file := hex.EncodeToString(sum[:])[:digestLen] + strings.ToLower(filepath.Ext(name))
	rel := path.Join(attachmentsDir, file)

	target := filepath.Join(a.root, attachmentsDir, file)
	if _, err := os.Stat(target); err == nil {
		return rel, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", apperrors.IO("create attachments directory", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil { //nolint:gosec // G306: 0o644 is intentional for data files
		return "", apperrors.IO("write attachment", err)
	}
	return rel, nil
}

// Read returns the content behind a vault-relative attachment path.
func (a *Attachments) Read(rel string) ([]byte, error) {
	target, err := a.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("attachment " + rel)
		}
		return nil, apperrors.IO("read attachment", err)
	}
	return data, nil
}

// Delete removes an attachment. Deleting a missing one is not an error.
func (a *Attachments) Delete(rel string) error {
	target, err := a.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.IO("delete attachment", err)
	}
	return nil
}

// resolve validates a vault-relative path and rejects anything that
// escapes the attachments directory.
func (a *Attachments) resolve(rel string) (string, error) {
	clean := path.Clean(filepath.ToSlash(rel))
	if !strings.HasPrefix(clean, attachmentsDir+"/") || strings.Contains(clean, "..") {
		return "", apperrors.Newf(apperrors.CodeInvalidFormat, "invalid attachment path %q", rel)
	}
	return filepath.Join(a.root, filepath.FromSlash(clean)), nil
}
