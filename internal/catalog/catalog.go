package catalog

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opsmenu/opsmenu/internal/model"
	"github.com/opsmenu/opsmenu/internal/parallel"
)

const parseParallelism = 4

// Catalog discovers executable scripts under a configured root and serves
// immutable descriptor snapshots. Refresh builds a complete new snapshot
// before swapping it in, so readers see either the old or the new list,
// never a partial one.
type Catalog struct {
	root           string
	defaultTimeout time.Duration
	snap           atomic.Pointer[snapshot]
}

type snapshot struct {
	scripts  []model.ScriptDescriptor
	byID     map[string]model.ScriptDescriptor
	warnings []string
}

func New(root string, defaultTimeout time.Duration) *Catalog {
	c := &Catalog{
		root:           root,
		defaultTimeout: defaultTimeout,
	}
	c.snap.Store(&snapshot{byID: map[string]model.ScriptDescriptor{}})
	return c
}

// Refresh rescans the script root. Malformed or duplicate entries are
// skipped with a recorded warning, only an unreadable root is an error.
func (c *Catalog) Refresh(ctx context.Context) error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("reading script root %s: %w", c.root, err)
	}

	next := &snapshot{byID: map[string]model.ScriptDescriptor{}}

	pmap := parallel.NewMap(ctx, parseParallelism, func(ctx context.Context, name string) (parsed, error) {
		return c.parseOne(ctx, name)
	})
	for p, err := range pmap.Iter(candidates(entries)) {
		if err != nil {
			next.warnings = append(next.warnings, err.Error())
			continue
		}
		next.warnings = append(next.warnings, p.warnings...)
		if _, ok := next.byID[p.desc.ID]; ok {
			next.warnings = append(next.warnings, fmt.Sprintf("duplicate script id %q: skipping %s", p.desc.ID, p.desc.Path))
			continue
		}
		next.byID[p.desc.ID] = p.desc
		next.scripts = append(next.scripts, p.desc)
	}

	sort.Slice(next.scripts, func(i, j int) bool {
		return strings.ToLower(next.scripts[i].Synopsis) < strings.ToLower(next.scripts[j].Synopsis)
	})

	c.snap.Store(next)
	slog.DebugContext(ctx, "catalog refreshed", "scripts", len(next.scripts), "warnings", len(next.warnings))
	return nil
}

type parsed struct {
	desc     model.ScriptDescriptor
	warnings []string
}

func (c *Catalog) parseOne(_ context.Context, name string) (parsed, error) {
	path := filepath.Join(c.root, name)
	desc, warns, err := parseScript(path, c.defaultTimeout)
	if err != nil {
		return parsed{}, fmt.Errorf("%s not loaded: %w", name, err)
	}
	return parsed{desc: desc, warnings: warns}, nil
}

// candidates yields file names with a recognized script extension,
// dotfiles and __init__ style helpers excluded.
func candidates(entries []os.DirEntry) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			name := e.Name()
			if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__init__") {
				continue
			}
			if !recognized(name) {
				continue
			}
			if !yield(name, nil) {
				return
			}
		}
	}
}

func recognized(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".sh", ".py", ".ps1":
		return true
	}
	return false
}

// List returns the current descriptor snapshot, ordered by synopsis.
func (c *Catalog) List() []model.ScriptDescriptor {
	snap := c.snap.Load()
	out := make([]model.ScriptDescriptor, len(snap.scripts))
	copy(out, snap.scripts)
	return out
}

// Get returns the descriptor with the given id or model.ErrScriptNotFound.
func (c *Catalog) Get(id string) (model.ScriptDescriptor, error) {
	snap := c.snap.Load()
	desc, ok := snap.byID[id]
	if !ok {
		return model.ScriptDescriptor{}, fmt.Errorf("%q: %w", id, model.ErrScriptNotFound)
	}
	return desc, nil
}

// Warnings returns discovery warnings recorded by the last Refresh.
func (c *Catalog) Warnings() []string {
	snap := c.snap.Load()
	out := make([]string, len(snap.warnings))
	copy(out, snap.warnings)
	return out
}
