package docsync

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DocChange reports an externally created or edited spec document.
type DocChange struct {
	Path     string
	Doc      string
	Complete bool
	Reason   string
}

// Watch observes the specs root for externally edited documents and invokes
// onChange with a fresh completeness evaluation after writes settle. It is
// best effort: it only sees documents that appear or change while
// it runs, and a failed callback is simply dropped. Blocks until ctx ends.
func (s *Syncer) Watch(ctx context.Context, onChange func(DocChange)) error {
	if !s.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(s.SpecsRoot); err != nil {
		return err
	}
	// Project subdirectories are watched as they appear.
	if entries, err := filepath.Glob(filepath.Join(s.SpecsRoot, "*")); err == nil {
		for _, e := range entries {
			_ = w.Add(e)
		}
	}

	// Editors fire bursts of writes per save; coalesce them per path.
	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				// Could be a new project directory.
				_ = w.Add(ev.Name)
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			_ = err // transient watcher errors are dropped
		case <-ticker.C:
			now := time.Now()
			for path, seen := range pending {
				if now.Sub(seen) < 500*time.Millisecond {
					continue
				}
				delete(pending, path)
				content, err := readFile(path)
				if err != nil {
					continue
				}
				complete, reason := CheckCompleteness(content)
				onChange(DocChange{
					Path:     path,
					Doc:      filepath.Base(path),
					Complete: complete,
					Reason:   reason,
				})
			}
		}
	}
}
