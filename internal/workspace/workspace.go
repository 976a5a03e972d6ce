// Package workspace owns the directory the generated service is written to.
//
// File writes are serialized per path so concurrent repair loops that touch
// the shared API module never interleave. Starter files are embedded in the
// binary and copied in on demand.
package workspace

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

//go:embed templates/*
var templates embed.FS

// Template names shipped with the binary
const (
	APIFile          = "api.py"
	CORSFile         = "cors.py"
	StaticFile       = "static.py"
	UtilsFile        = "db_utils.py"
	SchemasFile      = "schemas.py"
	ServiceExample   = "service.py"
	TestExample      = "test_api.py"
	RequirementsFile = "requirements.txt"
)

// SharedFiles are copied verbatim into every generated project
var SharedFiles = []string{StaticFile, UtilsFile, CORSFile, RequirementsFile}

// ErrInvalidName is returned for file names that would escape the workspace
var ErrInvalidName = errors.New("invalid workspace file name")

// Workspace is a directory of generated source files
type Workspace struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the directory if needed and returns a workspace rooted there
func New(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return &Workspace{dir: abs, locks: make(map[string]*sync.Mutex)}, nil
}

// Dir returns the absolute workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the absolute path of a workspace file
func (w *Workspace) Path(name string) (string, error) {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(w.dir, clean), nil
}

// Read returns the contents of a workspace file
func (w *Workspace) Read(name string) (string, error) {
	path, err := w.Path(name)
	if err != nil {
		return "", err
	}

	lock := w.lock(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

// Write replaces a workspace file
func (w *Workspace) Write(name, content string) error {
	path, err := w.Path(name)
	if err != nil {
		return err
	}

	lock := w.lock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Update applies fn to the current contents of a file under its lock.
// A missing file is passed to fn as an empty string.
func (w *Workspace) Update(name string, fn func(string) (string, error)) error {
	path, err := w.Path(name)
	if err != nil {
		return err
	}

	lock := w.lock(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	updated, err := fn(string(data))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// List returns workspace file names (relative, sorted) with one of the given
// extensions. No extensions lists every file.
func (w *Workspace) List(exts ...string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != w.dir && (strings.HasPrefix(name, ".") || name == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(exts) > 0 && !hasExt(path, exts) {
			return nil
		}
		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Template returns an embedded starter file
func Template(name string) (string, error) {
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return string(data), nil
}

// CopyTemplates writes the named embedded files into the workspace
func (w *Workspace) CopyTemplates(names ...string) error {
	for _, name := range names {
		content, err := Template(name)
		if err != nil {
			return err
		}
		if err := w.Write(name, content); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workspace) lock(path string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()

	l, ok := w.locks[path]
	if !ok {
		l = &sync.Mutex{}
		w.locks[path] = l
	}
	return l
}

func hasExt(path string, exts []string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}
