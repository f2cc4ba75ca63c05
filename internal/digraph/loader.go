package digraph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-yaml"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lightflow-run/lightflow/internal/core"
)

// Loader parses workflow files from a set of search paths, caching
// validated WorkflowSpecs so repeated `workflow start` calls against the
// same file don't re-parse and re-validate YAML every time.
type Loader struct {
	paths []string
	cache *lru.Cache[string, WorkflowSpec]

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader builds a Loader searching paths in order, caching up to
// cacheSize parsed workflows.
func NewLoader(paths []string, cacheSize int) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	cache, err := lru.New[string, WorkflowSpec](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("digraph: build loader cache: %w", err)
	}
	return &Loader{paths: paths, cache: cache}, nil
}

// Load parses and validates the named workflow, returning a cached
// result if the file's path was already parsed and not since
// invalidated.
func (l *Loader) Load(name string) (WorkflowSpec, error) {
	path, err := l.resolve(name)
	if err != nil {
		return WorkflowSpec{}, err
	}
	if spec, ok := l.cache.Get(path); ok {
		return spec, nil
	}
	spec, err := parseFile(path)
	if err != nil {
		return WorkflowSpec{}, err
	}
	for _, d := range spec.Dags {
		if _, err := d.ToGraph(); err != nil {
			return WorkflowSpec{}, err
		}
	}
	l.cache.Add(path, spec)
	return spec, nil
}

// List enumerates every workflow file under the loader's search paths,
// returning their name and description (spec.md §6: "first docstring
// line = description").
func (l *Loader) List() ([]WorkflowSpec, error) {
	var out []WorkflowSpec
	for _, dir := range l.paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("digraph: list %s: %w", dir, err)
		}
		for _, ent := range entries {
			if ent.IsDir() || !isWorkflowFile(ent.Name()) {
				continue
			}
			spec, err := parseFile(filepath.Join(dir, ent.Name()))
			if err != nil {
				return nil, err
			}
			out = append(out, spec)
		}
	}
	return out, nil
}

func isWorkflowFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func (l *Loader) resolve(name string) (string, error) {
	for _, dir := range l.paths {
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir, name+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", core.ErrWorkflowNotFound, name)
}

func parseFile(path string) (WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowSpec{}, fmt.Errorf("%w: read %s: %v", core.ErrConfigError, path, err)
	}
	var spec WorkflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return WorkflowSpec{}, fmt.Errorf("%w: parse %s: %v", core.ErrConfigError, path, err)
	}
	return spec, nil
}

// Watch starts watching the loader's search paths for changes, invalidating
// the parse cache entry for any file that's created, written, or removed.
// It returns a stop function. Safe to call at most once per Loader.
func (l *Loader) Watch() (stop func() error, err error) {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("digraph: start watcher: %w", err)
	}
	for _, dir := range l.paths {
		if err := w.Add(dir); err != nil && !os.IsNotExist(err) {
			_ = w.Close()
			return nil, fmt.Errorf("digraph: watch %s: %w", dir, err)
		}
	}
	l.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) {
					l.cache.Remove(ev.Name)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w.Close, nil
}
