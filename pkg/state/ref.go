package state

import (
	"sync/atomic"

	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Ref is a lazily resolved handle from one entity to another. It stores only
// the target identity and a lookup into the owning registry, never the
// target itself, so entities can point at each other without reference
// cycles and before the target has synchronized.
//
// Attach/detach hooks fire at most once per actual identity transition. The
// registry drives the lifecycle: it calls Load when the owning entity is
// indexed and Unload when the owner is torn down. Mutation (SetID, Load,
// Unload) is serialized by the owning entity; Get is safe to call
// concurrently with mutation.
type Ref[T any] struct {
	id      atomic.Int64
	resolve func(snowflake.ID) *T
	attach  func(*T)
	detach  func(*T)
	loaded  bool
}

// NewRef creates an unloaded reference to id, resolving through fn.
// A zero id is a valid "points at nothing" state.
func NewRef[T any](id snowflake.ID, fn func(snowflake.ID) *T) *Ref[T] {
	r := &Ref[T]{resolve: fn}
	r.id.Store(int64(id))
	return r
}

// OnTransition installs attach/detach hooks and returns the reference.
// Either hook may be nil. Must be called before the first Load.
func (r *Ref[T]) OnTransition(attach, detach func(*T)) *Ref[T] {
	r.attach = attach
	r.detach = detach
	return r
}

// ID returns the current target identity (zero when pointing at nothing).
func (r *Ref[T]) ID() snowflake.ID {
	return snowflake.ID(r.id.Load())
}

// Get resolves the current target, or nil while the target is absent from
// the graph. Absence means "not yet synchronized", never an error.
func (r *Ref[T]) Get() *T {
	id := snowflake.ID(r.id.Load())
	if id.IsZero() {
		return nil
	}
	return r.resolve(id)
}

// SetID repoints the reference. When the identity actually changes and the
// reference is loaded, the old target detaches before the new one attaches;
// identical ids are a no-op.
func (r *Ref[T]) SetID(id snowflake.ID) {
	old := snowflake.ID(r.id.Load())
	if old == id {
		return
	}
	if r.loaded {
		r.fireDetach(old)
	}
	r.id.Store(int64(id))
	if r.loaded {
		r.fireAttach(id)
	}
}

// Load marks the reference live and fires the attach hook for the current
// target. Idempotent.
func (r *Ref[T]) Load() {
	if r.loaded {
		return
	}
	r.loaded = true
	r.fireAttach(snowflake.ID(r.id.Load()))
}

// Unload fires the detach hook for the current target and marks the
// reference dead. Idempotent.
func (r *Ref[T]) Unload() {
	if !r.loaded {
		return
	}
	r.fireDetach(snowflake.ID(r.id.Load()))
	r.loaded = false
}

func (r *Ref[T]) fireAttach(id snowflake.ID) {
	if r.attach == nil || id.IsZero() {
		return
	}
	if t := r.resolve(id); t != nil {
		r.attach(t)
	}
}

func (r *Ref[T]) fireDetach(id snowflake.ID) {
	if r.detach == nil || id.IsZero() {
		return
	}
	if t := r.resolve(id); t != nil {
		r.detach(t)
	}
}
