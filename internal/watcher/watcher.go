// Package watcher reports changes to a build output directory. A bundler
// writes several files per rebuild, so bursts of filesystem events are
// collected into one Batch that is delivered once the directory has been
// quiet for the debounce delay.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/spadev/internal/logging"
)

// Op is the kind of change seen for a path.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

func opOf(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

// Change is the last change seen for one output file during a burst.
type Change struct {
	Op Op
	// Path is relative to the watched root, slash separated and rooted,
	// the way the file is requested over HTTP ("/assets/logo.png").
	Path string
}

// Batch is the set of changes of one burst, sorted by path.
type Batch []Change

// Paths returns the changed paths in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b))
	for i, c := range b {
		paths[i] = c.Path
	}
	return paths
}

// Filter reports whether a change to the rooted path is worth reporting.
type Filter func(p string) bool

// Handler receives every batch. It runs on the watcher goroutine and
// should not block.
type Handler func(Batch)

// Watcher watches a directory tree, including directories created after
// it starts.
type Watcher struct {
	root    string
	delay   time.Duration
	handler Handler
	filters []Filter
	logger  logging.Logger
	fsw     *fsnotify.Watcher

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

// New watches root and every directory below it. Nothing is delivered
// until Start.
func New(root string, delay time.Duration, handler Handler, logger logging.Logger, filters ...Filter) (*Watcher, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:    root,
		delay:   delay,
		handler: handler,
		filters: filters,
		logger:  logger.WithComponent("watcher"),
		fsw:     fsw,
		done:    make(chan struct{}),
	}
	if err := w.watchTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(p)
		}
		return nil
	})
}

// Start delivers batches until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.loop(ctx)
	})
}

// Close stops watching and waits for a started loop to return. It is safe
// to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
		started := true
		w.startOnce.Do(func() { started = false })
		if started {
			<-w.done
		}
	})
	return w.closeErr
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]Change)
	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			change, ok := w.change(ev)
			if !ok {
				continue
			}
			pending[change.Path] = change
			timer.Reset(w.delay)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, err, "File watcher error", "root", w.root)
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make(Batch, 0, len(pending))
			for _, c := range pending {
				batch = append(batch, c)
			}
			sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
			clear(pending)
			w.logger.Debug(ctx, "Output changed", "files", len(batch))
			if w.handler != nil {
				w.handler(batch)
			}
		}
	}
}

// change converts ev into a Change, or reports false when it is not one.
// New directories are watched instead of reported.
func (w *Watcher) change(ev fsnotify.Event) (Change, bool) {
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.watchTree(ev.Name); err != nil {
				w.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", ev.Name)
			}
			return Change{}, false
		}
	}
	if ev.Op == fsnotify.Chmod {
		return Change{}, false
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return Change{}, false
	}
	p := path.Join("/", filepath.ToSlash(rel))
	for _, keep := range w.filters {
		if !keep(p) {
			return Change{}, false
		}
	}
	return Change{Op: opOf(ev.Op), Path: p}, true
}

// NoHidden skips dotfiles and editor backups.
func NoHidden(p string) bool {
	base := path.Base(p)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~")
}

// NoSourceMaps skips source maps, which change with every output.
func NoSourceMaps(p string) bool {
	return path.Ext(p) != ".map"
}
