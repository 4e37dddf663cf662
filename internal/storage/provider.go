// Package storage defines the documents directory abstraction.
package storage

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/starford/unitlens/internal/models"
)

// ErrUnsupported is returned for paths that are not document files.
var ErrUnsupported = errors.New("storage: not a document file")

// Extensions lists the file extensions treated as documents.
var Extensions = []string{".xhtml", ".html", ".htm", ".xml"}

// Provider is the interface for document file operations.
type Provider interface {
	// List returns metadata for every document file under dir (relative to the root).
	List(dir string) ([]models.DocumentMetadata, error)
	// Read returns the raw bytes of the document at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the root).
	Write(path string, content []byte) error
	// Delete removes the document at path (relative to the root).
	Delete(path string) error
	// Move renames oldPath to newPath (both relative to the root).
	Move(oldPath, newPath string) error
}

// IsDocument reports whether name has one of the document extensions.
func IsDocument(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
