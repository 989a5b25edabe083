package state_test

import (
	"testing"

	"github.com/jhgg/discordstate/pkg/snowflake"
	"github.com/jhgg/discordstate/pkg/state"
)

type node struct {
	id snowflake.ID
}

// refWorld is a tiny resolver backing Ref tests: a mutable id index plus
// hook counters.
type refWorld struct {
	nodes    map[snowflake.ID]*node
	attached []snowflake.ID
	detached []snowflake.ID
}

func newRefWorld(ids ...snowflake.ID) *refWorld {
	w := &refWorld{nodes: make(map[snowflake.ID]*node)}
	for _, id := range ids {
		w.nodes[id] = &node{id: id}
	}
	return w
}

func (w *refWorld) resolve(id snowflake.ID) *node {
	return w.nodes[id]
}

func (w *refWorld) ref(id snowflake.ID) *state.Ref[node] {
	return state.NewRef(id, w.resolve).OnTransition(
		func(n *node) { w.attached = append(w.attached, n.id) },
		func(n *node) { w.detached = append(w.detached, n.id) },
	)
}

func TestRefResolvesLazily(t *testing.T) {
	w := newRefWorld()
	r := w.ref(7)

	// The target does not exist yet: absence, not an error.
	if got := r.Get(); got != nil {
		t.Fatalf("Get before target exists = %v, want nil", got)
	}

	w.nodes[7] = &node{id: 7}
	if got := r.Get(); got == nil || got.id != 7 {
		t.Fatalf("Get after target appears = %v, want node 7", got)
	}

	if got := r.ID(); got != 7 {
		t.Errorf("ID() = %d, want 7", got)
	}
}

func TestRefZeroIDPointsAtNothing(t *testing.T) {
	w := newRefWorld(1)
	r := w.ref(snowflake.Zero)

	if got := r.Get(); got != nil {
		t.Fatalf("Get for zero id = %v, want nil", got)
	}
	r.Load()
	r.Unload()
	if len(w.attached)+len(w.detached) != 0 {
		t.Errorf("hooks fired for zero identity: attach=%v detach=%v", w.attached, w.detached)
	}
}

func TestRefLoadUnloadIdempotent(t *testing.T) {
	w := newRefWorld(1)
	r := w.ref(1)

	r.Load()
	r.Load()
	if len(w.attached) != 1 {
		t.Fatalf("attach fired %d times after double Load, want 1", len(w.attached))
	}

	r.Unload()
	r.Unload()
	if len(w.detached) != 1 {
		t.Fatalf("detach fired %d times after double Unload, want 1", len(w.detached))
	}
}

func TestRefSetIDTransitions(t *testing.T) {
	w := newRefWorld(1, 2)
	r := w.ref(1)
	r.Load()

	// Same identity: no transition, no hooks.
	r.SetID(1)
	if len(w.attached) != 1 || len(w.detached) != 0 {
		t.Fatalf("hooks fired on identity no-op: attach=%v detach=%v", w.attached, w.detached)
	}

	// Real transition: detach old, attach new, exactly once each.
	r.SetID(2)
	if len(w.detached) != 1 || w.detached[0] != 1 {
		t.Errorf("detach = %v, want [1]", w.detached)
	}
	if len(w.attached) != 2 || w.attached[1] != 2 {
		t.Errorf("attach = %v, want [1 2]", w.attached)
	}
	if got := r.Get(); got == nil || got.id != 2 {
		t.Errorf("Get after transition = %v, want node 2", got)
	}

	// Dropping to zero detaches without attaching.
	r.SetID(snowflake.Zero)
	if len(w.detached) != 2 || w.detached[1] != 2 {
		t.Errorf("detach = %v, want [1 2]", w.detached)
	}
	if len(w.attached) != 2 {
		t.Errorf("attach fired on transition to zero: %v", w.attached)
	}
}

func TestRefUnloadedTransitionIsSilent(t *testing.T) {
	w := newRefWorld(1, 2)
	r := w.ref(1)

	// Before Load the reference is not live; moving it fires nothing.
	r.SetID(2)
	if len(w.attached)+len(w.detached) != 0 {
		t.Fatalf("hooks fired before Load: attach=%v detach=%v", w.attached, w.detached)
	}

	r.Load()
	if len(w.attached) != 1 || w.attached[0] != 2 {
		t.Fatalf("attach after Load = %v, want [2]", w.attached)
	}
}

func TestRefAbsentTargetSkipsHooks(t *testing.T) {
	w := newRefWorld()
	r := w.ref(5)

	// Loading while the target is missing cannot attach anything.
	r.Load()
	if len(w.attached) != 0 {
		t.Fatalf("attach fired for absent target: %v", w.attached)
	}
	r.Unload()
	if len(w.detached) != 0 {
		t.Fatalf("detach fired for absent target: %v", w.detached)
	}
}
