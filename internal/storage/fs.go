package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/unitlens/internal/checksum"
	"github.com/starford/unitlens/internal/models"
)

// TempPrefix marks in-flight atomic writes. Watchers ignore such files.
const TempPrefix = ".unitlens-tmp-"

// FS implements Provider on a directory opened as an os.Root, so no
// operation can reach outside it, symlinks included.
type FS struct {
	dir  string
	root *os.Root
}

// NewFS opens dir as the documents root. The directory must already exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: abs, root: root}, nil
}

// Root returns the absolute documents directory.
func (f *FS) Root() string { return f.dir }

// Close releases the root directory handle.
func (f *FS) Close() error { return f.root.Close() }

// docPath validates rel as a document path inside the root.
func docPath(rel string) (string, error) {
	if !IsDocument(rel) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, rel)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	return filepath.Clean(filepath.FromSlash(rel)), nil
}

// List walks dir (slash separated, relative to the root) and returns
// metadata for every document file. Paths in the result are slash separated.
func (f *FS) List(dir string) ([]models.DocumentMetadata, error) {
	base := path.Clean("./" + filepath.ToSlash(dir))
	if !fs.ValidPath(base) {
		return nil, fmt.Errorf("storage: invalid directory: %s", dir)
	}

	fsys := f.root.FS()
	var out []models.DocumentMetadata
	err := fs.WalkDir(fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !IsDocument(d.Name()) || strings.HasPrefix(d.Name(), TempPrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, models.DocumentMetadata{
			Path:      p,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a document.
func (f *FS) Read(p string) ([]byte, error) {
	rel, err := docPath(p)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(rel)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces a document atomically. Content goes to a temp file in the
// target directory, is synced, then renamed over the target.
func (f *FS) Write(p string, content []byte) error {
	rel, err := docPath(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(rel)
	if err := f.root.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", dir, err)
	}

	tmpName := filepath.Join(dir, TempPrefix+uuid.NewString())
	tmp, err := f.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = f.root.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := f.root.Rename(tmpName, rel); err != nil {
		return fmt.Errorf("storage: rename %s: %w", p, err)
	}
	committed = true
	return nil
}

// Delete removes a document.
func (f *FS) Delete(p string) error {
	rel, err := docPath(p)
	if err != nil {
		return err
	}
	if err := f.root.Remove(rel); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}

// Move renames a document within the root, creating the target directory.
func (f *FS) Move(from, to string) error {
	src, err := docPath(from)
	if err != nil {
		return err
	}
	dst, err := docPath(to)
	if err != nil {
		return err
	}
	if err := f.root.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := f.root.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: move %s: %w", from, err)
	}
	return nil
}
