// Package loader implements the document loader adapter: it wraps
// format-specific readers behind one interface producing raw text, selected
// by file extension.
//
// The built-in readers cover text-bearing formats (.txt, .md, .csv, .json).
// Rich formats (.pdf, .docx, .xlsx) are a registration point: callers plug in
// a parser via [Registry.Register]; unregistered extensions fail with
// [ErrUnsupportedFormat] and are skipped during corpus walks.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/raggo/internal/hash"
	"github.com/hupe1980/raggo/model"
)

// ErrUnsupportedFormat is returned for file extensions with no registered loader.
var ErrUnsupportedFormat = errors.New("loader: unsupported format")

// LoadError wraps a per-document read/parse failure. It is recoverable:
// corpus enumeration skips the document and continues.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loader: load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader extracts raw text from a file of a specific format.
type Loader interface {
	// Load reads the file at path and returns its text content.
	Load(ctx context.Context, path string) (string, error)

	// Extensions returns the lower-case file extensions (including the dot)
	// this loader handles.
	Extensions() []string
}

// Registry dispatches loads to format loaders by file extension.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

// NewRegistry creates a registry with the built-in text, CSV and JSON loaders.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	r.Register(Text{})
	r.Register(CSV{})
	r.Register(JSON{})
	return r
}

// Register adds a loader for its extensions, replacing any previous one.
func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range l.Extensions() {
		r.loaders[strings.ToLower(ext)] = l
	}
}

// Supported reports whether a loader is registered for the path's extension.
func (r *Registry) Supported(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// forPath returns the loader for the path's extension.
func (r *Registry) forPath(path string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return l, nil
}

// Load reads the document at rel (relative to root) and returns it with
// provenance metadata filled in. The document id is the slash-separated
// relative path, so ids are stable across machines and corpus moves.
func (r *Registry) Load(ctx context.Context, root, rel string) (model.Document, error) {
	abs := filepath.Join(root, rel)

	l, err := r.forPath(abs)
	if err != nil {
		return model.Document{}, err
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return model.Document{}, &LoadError{Path: abs, Err: err}
	}

	text, err := l.Load(ctx, abs)
	if err != nil {
		return model.Document{}, &LoadError{Path: abs, Err: err}
	}

	return model.Document{
		ID:          model.DocumentID(filepath.ToSlash(rel)),
		Path:        abs,
		Text:        text,
		ContentHash: hash.Content([]byte(text)),
		ModTime:     fi.ModTime(),
		Size:        fi.Size(),
		Format:      strings.ToLower(filepath.Ext(abs)),
	}, nil
}

// Walk collects all supported files under root in one directory traversal.
// It returns slash-separated paths relative to root, sorted for determinism.
func (r *Registry) Walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if r.Supported(path) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Filter returns the subset of rels whose extension is in exts.
func Filter(rels []string, exts ...string) []string {
	want := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		want[strings.ToLower(ext)] = struct{}{}
	}
	var out []string
	for _, rel := range rels {
		if _, ok := want[strings.ToLower(filepath.Ext(rel))]; ok {
			out = append(out, rel)
		}
	}
	return out
}
