package catalog

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/hearth/internal/debounce"
)

// DefaultRescanWindow coalesces bursts of file events into one rescan.
const DefaultRescanWindow = 2 * time.Second

// Catalogue owns the authoritative automation list for one directory tree.
type Catalogue struct {
	root   string
	window time.Duration
	logger *slog.Logger

	mu          sync.RWMutex
	automations []Automation
	subs        map[int]chan []Automation
	nextSub     int

	watcher *fsnotify.Watcher
	deb     *debounce.Debouncer[string]
	wg      sync.WaitGroup
}

// Option configures a Catalogue.
type Option func(*Catalogue)

// WithLogger sets the catalogue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalogue) { c.logger = l }
}

// WithRescanWindow overrides the debounce window; tests shrink it.
func WithRescanWindow(d time.Duration) Option {
	return func(c *Catalogue) { c.window = d }
}

// New builds a Catalogue rooted at dir. Call Start to begin watching.
func New(dir string, opts ...Option) *Catalogue {
	c := &Catalogue{
		root:   dir,
		window: DefaultRescanWindow,
		logger: slog.Default(),
		subs:   make(map[int]chan []Automation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Automations returns a copy of the current list.
func (c *Catalogue) Automations() []Automation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Automation, len(c.automations))
	copy(out, c.automations)
	return out
}

// ByFingerprint finds one automation in the current list.
func (c *Catalogue) ByFingerprint(fp string) (Automation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.automations {
		if a.Fingerprint == fp {
			return a, true
		}
	}
	return Automation{}, false
}

// Subscribe returns a channel that receives the full automation list after
// every rescan, and a cancel func. The channel holds only the latest list;
// a slow consumer sees the freshest state, not the history.
func (c *Catalogue) Subscribe() (<-chan []Automation, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan []Automation, 1)
	c.subs[id] = ch
	// The channel is left open on cancel; Scan may hold a reference while
	// sending and consumers select on their own context anyway.
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Scan walks the tree, reparses every automation file and atomically
// replaces the list. The parser is pure, so rescanning unchanged content
// yields identical fingerprints.
func (c *Catalogue) Scan() []Automation {
	var list []Automation
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("walk automation dir", "path", path, "error", err)
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != c.root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(name, ".md") {
			return nil
		}
		parsed, err := ParseFile(c.root, path)
		switch {
		case errors.Is(err, ErrBadFrontMatter):
			c.logger.Warn("ignoring malformed front matter", "path", path, "error", err)
		case err != nil:
			c.logger.Warn("skipping unreadable automation file", "path", path, "error", err)
			return nil
		}
		list = append(list, parsed...)
		return nil
	})
	if err != nil {
		c.logger.Warn("automation scan aborted", "error", err)
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].SourcePath < list[j].SourcePath })

	c.mu.Lock()
	c.automations = list
	subs := make([]chan []Automation, 0, len(c.subs))
	for _, ch := range c.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, ch := range subs {
		snapshot := make([]Automation, len(list))
		copy(snapshot, list)
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
	c.logger.Debug("automation rescan complete", "count", len(list))
	return list
}

// Start performs the initial scan, then watches the tree until ctx is done.
// Bursts of events within the rescan window coalesce into one rescan.
func (c *Catalogue) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(c.root, "automations"), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(c.root, "cues"), 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	c.watcher = watcher

	if err := c.addWatchesRecursive(c.root); err != nil {
		c.logger.Warn("initial watch setup incomplete", "error", err)
	}

	c.deb = debounce.New(
		func(_ string, _ []string) { c.Scan() },
		debounce.WithWindow[string](c.window),
	)

	c.Scan()

	c.wg.Add(1)
	go c.watchLoop(ctx)
	return nil
}

// Close stops the watcher and waits for the watch loop.
func (c *Catalogue) Close() error {
	var err error
	if c.watcher != nil {
		err = c.watcher.Close()
	}
	c.wg.Wait()
	if c.deb != nil {
		c.deb.Stop()
	}
	return err
}

func (c *Catalogue) watchLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := c.addWatchesRecursive(event.Name); err != nil {
						c.logger.Debug("watch new directory", "path", event.Name, "error", err)
					}
				}
			}
			c.deb.Enqueue(event.Name)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("automation watch error", "error", err)
		}
	}
}

func (c *Catalogue) addWatchesRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := c.watcher.Add(path); err != nil {
			c.logger.Debug("watch directory", "path", path, "error", err)
		}
		return nil
	})
}
