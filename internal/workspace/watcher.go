package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/unitlens/internal/checksum"
	"github.com/starford/unitlens/internal/storage"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the documents root and keeps the
// workspace in step with it until ctx is cancelled. Created or written
// documents are (re)opened unless their content matches the checksum last
// seen for that path, which covers the workspace's own write-back.
// Removed documents are closed and dropped from the ledger.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass against storage.
func (s *Service) Watch(ctx context.Context, root string) error {
	if s.store == nil {
		return errors.New("workspace: no storage configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	s.logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			s.reconcile(ctx)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						s.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					s.openNewDir(ctx, root, absPath)
					continue
				}
			}

			if !watched(absPath) {
				continue
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				s.refresh(ctx, rel)

			case ev.Op&fsnotify.Remove != 0:
				s.forget(rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old path only; the new one arrives as
				// a Create if it stays under a watched directory.
				s.forget(rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// refresh reopens rel when its content differs from what was last seen.
func (s *Service) refresh(ctx context.Context, rel string) {
	data, err := s.store.Read(rel)
	if err != nil {
		s.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if checksum.Matches(data, s.seenChecksum(rel)) && s.isOpen(rel) {
		s.logger.Debug("watcher: unchanged", slog.String("path", rel))
		return
	}
	if _, err := s.Open(ctx, rel, data); err != nil {
		s.logger.Warn("watcher: open failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("watcher: opened", slog.String("path", rel))
}

// forget closes the document for rel and removes it from the ledger.
func (s *Service) forget(rel string) {
	id, ok := s.closePath(rel)
	if !ok {
		return
	}
	if s.ledger != nil {
		if err := s.ledger.DeleteDocument(id); err != nil {
			s.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
			return
		}
	}
	s.logger.Debug("watcher: closed", slog.String("path", rel))
}

// reconcile closes documents whose files are gone and opens stored
// documents that are not open yet.
func (s *Service) reconcile(ctx context.Context) {
	metas, err := s.store.List("")
	if err != nil {
		s.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}
	}

	for _, info := range s.List(ctx) {
		if _, ok := disk[info.Path]; !ok {
			s.forget(info.Path)
			s.logger.Debug("reconcile: removed stale", slog.String("path", info.Path))
		}
	}

	for _, m := range metas {
		if s.isOpen(m.Path) {
			continue
		}
		if _, err := s.Load(ctx, m.Path); err == nil {
			s.logger.Debug("reconcile: opened", slog.String("path", m.Path))
		}
	}
}

// openNewDir opens any documents already present in a new directory.
func (s *Service) openNewDir(ctx context.Context, root, dirPath string) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !watched(path) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		s.refresh(ctx, filepath.ToSlash(rel))
		return nil
	})
}

func (s *Service) isOpen(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byPath[path]
	return ok
}

// watched reports whether path is a document file and not an in-flight
// atomic write.
func watched(path string) bool {
	return storage.IsDocument(path) && !strings.HasPrefix(filepath.Base(path), storage.TempPrefix)
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
