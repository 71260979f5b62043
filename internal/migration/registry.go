package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/schema-reconciler/internal/version"
)

type registryEntry struct {
	info     MigrationInfo
	action   Action
	consumed bool
}

// Registry accumulates declared migrations keyed by version. Registering a
// version twice replaces the earlier entry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register parses versionText and stores the migration under it. The last
// registration for a version wins. A nil action registers a no-op.
func (r *Registry) Register(versionText, name string, action Action) error {
	v, err := version.Parse(versionText)
	if err != nil {
		return err
	}
	r.RegisterVersion(v, name, action)
	return nil
}

// RegisterVersion is Register for an already parsed version.
func (r *Registry) RegisterVersion(v version.Version, name string, action Action) {
	r.RegisterInfo(MigrationInfo{Version: v, Name: name}, action)
}

// RegisterInfo stores info, including its optional checksum and description,
// under info.Version. The last registration for a version wins.
func (r *Registry) RegisterInfo(info MigrationInfo, action Action) {
	if action == nil {
		action = noopAction
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Version.String()] = &registryEntry{
		info:   info,
		action: action,
	}
}

// AllMigrations returns the registered migrations in no particular order
func (r *Registry) AllMigrations() []MigrationInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MigrationInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	return out
}

// Len returns the number of registered migrations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Lookup returns the migration registered for v
func (r *Registry) Lookup(v version.Version) (MigrationInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v.String()]
	if !ok {
		return MigrationInfo{}, false
	}
	return e.info, true
}

// take hands out the action for v exactly once.
func (r *Registry) take(v version.Version) (Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[v.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMigration, v)
	}
	if e.consumed {
		return nil, fmt.Errorf("%w: %s", ErrActionConsumed, v)
	}
	e.consumed = true
	return e.action, nil
}

var noopAction = ActionFunc(func(context.Context, Transaction) error { return nil })
