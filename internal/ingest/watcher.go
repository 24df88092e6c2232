package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch runs an fsnotify watcher on dir and ingests supported files on
// create and write until ctx is cancelled. Events for the same path are
// debounced by settle so half-written files are not picked up. Removed
// files are left in the index; documents leave only by explicit delete.
//
// New directories created at runtime are added to the watch list.
func (s *Service) Watch(ctx context.Context, dir string, settle time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}

	s.log.Info("corpus watcher started",
		zap.String("dir", dir), zap.Duration("settle", settle))

	timers := make(map[string]*time.Timer)
	settled := make(chan string)

	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("corpus watcher stopped")
			return nil

		case path := <-settled:
			delete(timers, path)
			if _, err := os.Stat(path); err != nil {
				continue // gone before it settled
			}
			if _, err := s.IngestFile(ctx, path, false); err != nil {
				s.log.Warn("watcher ingest failed",
					zap.String("path", path), zap.Error(err))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						s.log.Warn("watcher add dir failed",
							zap.String("path", ev.Name), zap.Error(addErr))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, typeErr := detectDocType(ev.Name); typeErr != nil {
				continue
			}
			if t, ok := timers[ev.Name]; ok {
				t.Reset(settle)
				continue
			}
			path := ev.Name
			timers[path] = time.AfterFunc(settle, func() {
				select {
				case settled <- path:
				case <-ctx.Done():
				}
			})

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("watcher error", zap.Error(watchErr))
		}
	}
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
