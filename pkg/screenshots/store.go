// Package screenshots stores test case screenshots on the filesystem.
// Only relative paths are handed to the structured store; the binary
// payload never enters the database.
package screenshots

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/redstone-qa/reporter/pkg/apierr"
)

var (
	nonWordRe    = regexp.MustCompile(`[^\w\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// slugify converts a case name to a safe filename fragment.
func slugify(text string) string {
	text = nonWordRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(strings.TrimSpace(text), "_")
	return strings.ToLower(text)
}

// FileStore persists screenshots under root, one directory per run.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{root: dir, logger: logger}
}

// Root returns the store's root directory.
func (s *FileStore) Root() string { return s.root }

// Save writes the screenshot payload and returns the relative path to
// store on the test case record. The filename is derived from the case
// name, the current time, and a random suffix, so concurrent reports for
// the same case name cannot collide.
func (s *FileStore) Save(runID, caseName, originalName string, r io.Reader) (string, error) {
	runDir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", apierr.Storage("create screenshot directory", err)
	}

	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".png"
	}
	filename := fmt.Sprintf("%s_%d_%s%s", slugify(caseName), time.Now().Unix(), uuid.New().String()[:8], ext)

	fullPath := filepath.Join(runDir, filename)
	f, err := os.Create(fullPath)
	if err != nil {
		return "", apierr.Storage("create screenshot file", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(fullPath)
		return "", apierr.Storage("write screenshot file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return "", apierr.Storage("close screenshot file", err)
	}

	return path.Join(runID, filename), nil
}

// Resolve converts a stored relative path to an absolute one. Paths that
// escape the store root are rejected.
func (s *FileStore) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", apierr.NotFoundf("screenshot path is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", apierr.NotFoundf("screenshot %s not found", rel)
	}
	full := filepath.Join(s.root, clean)
	if _, err := os.Stat(full); err != nil {
		return "", apierr.NotFoundf("screenshot %s not found", rel)
	}
	return full, nil
}

// Delete removes a stored screenshot. Deleting a missing file is not an
// error; the record is already gone or never had a file.
func (s *FileStore) Delete(rel string) error {
	full, err := s.Resolve(rel)
	if err != nil {
		return nil
	}
	if err := os.Remove(full); err != nil {
		return apierr.Storage("delete screenshot file", err)
	}
	return nil
}

// Handler serves stored screenshots as static binary content addressed by
// their relative path.
func (s *FileStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/")
		full, err := s.Resolve(rel)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, full)
	})
}
