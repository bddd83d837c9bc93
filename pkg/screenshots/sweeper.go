package screenshots

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PathLister reports the screenshot paths currently referenced by test
// case records. Satisfied by runs.RunStore without a package dependency
// in this direction.
type PathLister interface {
	ScreenshotPaths() ([]string, error)
}

// Sweeper periodically removes screenshot files that no test case
// references. Orphans appear when a record commit fails after the file
// write succeeded; they are harmless but accumulate.
type Sweeper struct {
	store    *FileStore
	lister   PathLister
	interval time.Duration
	minAge   time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. Files younger than minAge are never
// touched: a file may be written moments before its record commits.
func NewSweeper(store *FileStore, lister PathLister, interval, minAge time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		lister:   lister,
		interval: interval,
		minAge:   minAge,
		logger:   logger,
	}
}

// Run starts the sweeper loop. It runs until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("screenshot sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("screenshot sweeper started",
		"interval", s.interval.String(),
		"minAge", s.minAge.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("screenshot sweeper stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep performs a single orphan-removal pass.
func (s *Sweeper) sweep() {
	removed, err := s.SweepOnce()
	if err != nil {
		s.logger.Error("screenshot sweep failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("screenshot sweep completed", "removed", removed)
	}
}

// SweepOnce walks the store root and removes unreferenced files older
// than minAge. It returns the number of files removed.
func (s *Sweeper) SweepOnce() (int, error) {
	paths, err := s.lister.ScreenshotPaths()
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		referenced[filepath.Clean(filepath.FromSlash(p))] = struct{}{}
	}

	cutoff := time.Now().Add(-s.minAge)
	removed := 0

	err = filepath.WalkDir(s.store.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.store.Root(), path)
		if err != nil {
			return nil
		}
		if _, ok := referenced[filepath.Clean(rel)]; ok {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove orphaned screenshot", "path", rel, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return removed, err
	}
	return removed, nil
}
