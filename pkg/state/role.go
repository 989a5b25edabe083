package state

import (
	"sync"
	"sync/atomic"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/permission"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Role is a named permission grant within one server. The implicit
// "everyone" role shares its id with the server and carries the server's
// default permission baseline.
type Role struct {
	id     snowflake.ID
	server *Ref[Server]

	// perms is read lock-free by the resolution engine.
	perms atomic.Uint64

	mu       sync.Mutex
	name     string
	hoist    bool
	color    uint32
	position int
	synced   bool
}

// ID returns the role's identity.
func (r *Role) ID() snowflake.ID { return r.id }

// Server resolves the owning server, or nil while it is absent.
func (r *Role) Server() *Server { return r.server.Get() }

// Permissions returns the role's server-scope permission bits.
func (r *Role) Permissions() permission.Server {
	return permission.Server(r.perms.Load())
}

// IsEveryone reports whether this is a server's implicit everyone role.
func (r *Role) IsEveryone() bool { return r.id == r.server.ID() }

func (r *Role) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *Role) Hoist() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hoist
}

func (r *Role) Color() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.color
}

func (r *Role) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Synced reports whether at least one update record has populated the role.
func (r *Role) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}

// apply copies the fields present in rec onto the role and reports whether
// the permission bits changed; the caller owes holders a resolution pass
// when they did.
func (r *Role) apply(rec *feed.RoleInfo) (permsChanged bool) {
	r.mu.Lock()
	if rec.Name != nil {
		r.name = *rec.Name
	}
	if rec.Hoist != nil {
		r.hoist = *rec.Hoist
	}
	if rec.Color != nil {
		r.color = *rec.Color
	}
	if rec.Position != nil {
		r.position = *rec.Position
	}
	r.synced = true
	r.mu.Unlock()

	if rec.Permissions != nil {
		permsChanged = r.perms.Swap(*rec.Permissions) != *rec.Permissions
	}
	return permsChanged
}
