package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Group is one controller and its LED entities as seen in a single poll.
type Group struct {
	// Ref is the controller's OpenRGB entity id.
	Ref    string
	Device Entity
	LEDs   []Entity
}

// Diff is the outcome of applying a poll to the registry.
type Diff struct {
	// Added holds entities seen for the first time, in poll order.
	Added []Entity

	// Updated holds keys that were known and are still present, each
	// device followed by its LEDs, in poll order.
	Updated []string

	// Removed holds keys that disappeared, each device followed by its
	// LEDs, ordered by device ref.
	Removed []string
}

// Registry maps device and LED keys to the entities announced for them.
// It wraps a Repository so entities survive restarts; a nil repository
// keeps the registry in memory only.
//
// All public methods are thread-safe.
type Registry struct {
	repo   Repository
	server Server

	mu       sync.RWMutex
	entities map[string]*Entity  // by key
	refs     map[string][]string // device ref -> member keys, device first

	logger Logger
}

// NewRegistry creates a registry for one server.
func NewRegistry(repo Repository, server Server) *Registry {
	return &Registry{
		repo:     repo,
		server:   server,
		entities: make(map[string]*Entity),
		refs:     make(map[string][]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Server returns the server the registry belongs to.
func (r *Registry) Server() Server {
	return r.server
}

// Load replaces the registry contents with the persisted entities.
// This should be called on startup so devices that vanished while the
// bridge was down are removed by the first poll.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	entities, err := r.repo.ListEntities(ctx, r.server.ID)
	if err != nil {
		return fmt.Errorf("loading entities: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entities = make(map[string]*Entity, len(entities))
	r.refs = make(map[string][]string)
	for i := range entities {
		e := entities[i]
		r.entities[e.Key] = e.DeepCopy()
	}
	// Devices first so each ref's member list starts with its device.
	for _, kind := range []Kind{KindDevice, KindLED} {
		for i := range entities {
			if e := entities[i]; e.Kind == kind {
				r.refs[e.DeviceRef] = append(r.refs[e.DeviceRef], e.Key)
			}
		}
	}

	r.logger.Info("entity registry loaded", "count", len(entities), "devices", len(r.refs))
	return nil
}

// Apply records the entities seen in one poll and reports what changed.
//
// A key seen for the first time is added; a known key is updated in
// place (its ref and name may change when controllers are re-enumerated);
// a known key missing from groups is removed. The in-memory state is
// always updated; persistence failures are returned alongside the diff.
//
// Parameters:
//   - ctx: Context for persistence
//   - groups: Every controller of the poll, in server order
//
// Returns:
//   - Diff: Added, updated and removed entities
//   - error: Validation or persistence failures (joined)
func (r *Registry) Apply(ctx context.Context, groups []Group) (Diff, error) {
	var (
		diff    Diff
		errs    []error
		changed []*Entity
	)
	now := time.Now().UTC()
	seen := make(map[string]bool)
	refs := make(map[string][]string, len(groups))

	r.mu.Lock()

	for _, g := range groups {
		members := make([]Entity, 0, 1+len(g.LEDs))
		members = append(members, g.Device)
		members = append(members, g.LEDs...)

		for _, e := range members {
			e.DeviceRef = g.Ref
			if err := e.Validate(); err != nil {
				errs = append(errs, err)
				continue
			}
			if seen[e.Key] {
				errs = append(errs, fmt.Errorf("%w: duplicate key %q", ErrInvalidEntity, e.Key))
				continue
			}
			seen[e.Key] = true
			refs[g.Ref] = append(refs[g.Ref], e.Key)

			existing, ok := r.entities[e.Key]
			if !ok {
				e.UniqueID = EntityUniqueID(r.server.UniqueID, e.Key)
				e.CreatedAt = now
				e.UpdatedAt = now
				stored := e.DeepCopy()
				r.entities[e.Key] = stored
				diff.Added = append(diff.Added, e)
				changed = append(changed, stored.DeepCopy())
				continue
			}

			diff.Updated = append(diff.Updated, e.Key)
			uniqueID := EntityUniqueID(r.server.UniqueID, e.Key)
			if existing.DeviceRef != e.DeviceRef || existing.Name != e.Name || existing.UniqueID != uniqueID {
				existing.DeviceRef = e.DeviceRef
				existing.Name = e.Name
				existing.UniqueID = uniqueID
				existing.UpdatedAt = now
				changed = append(changed, existing.DeepCopy())
			}
		}
	}

	oldRefs := make([]string, 0, len(r.refs))
	for ref := range r.refs {
		oldRefs = append(oldRefs, ref)
	}
	sort.Strings(oldRefs)
	for _, ref := range oldRefs {
		for _, key := range r.refs[ref] {
			if !seen[key] {
				diff.Removed = append(diff.Removed, key)
				delete(r.entities, key)
			}
		}
	}
	r.refs = refs

	r.mu.Unlock()

	if r.repo != nil {
		for _, e := range changed {
			if err := r.repo.SaveEntity(ctx, r.server.ID, e); err != nil {
				errs = append(errs, err)
			}
		}
		if err := r.repo.DeleteEntities(ctx, r.server.ID, diff.Removed); err != nil {
			errs = append(errs, err)
		}
	}

	if len(diff.Added) > 0 || len(diff.Removed) > 0 {
		r.logger.Debug("entity registry changed",
			"added", len(diff.Added),
			"removed", len(diff.Removed),
		)
	}
	return diff, errors.Join(errs...)
}

// Get retrieves an entity by key. The returned entity is a copy.
func (r *Registry) Get(key string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, key)
	}
	return e.DeepCopy(), nil
}

// List returns copies of all entities ordered by key.
func (r *Registry) List() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, *e.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
