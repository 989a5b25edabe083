package state

import (
	"log/slog"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Options configures a Registry.
type Options struct {
	// Clock overrides the time source used for derived timestamps.
	// Nil means time.Now.
	Clock func() time.Time
	// Logger receives registry and engine logs. Nil means slog.Default.
	Logger *slog.Logger
}

// Registry owns the canonical entity instances and routes update events to
// them. Every reference held by an entity is a non-owning identity lookup
// against the registry, so entities may point at targets that have not been
// synchronized yet.
//
// The callback fields may be set once, before the first Apply call. They run
// on the applying goroutine and must return quickly without calling back
// into the registry.
type Registry struct {
	users    *xsync.MapOf[UserKey, *User]
	servers  *xsync.MapOf[snowflake.ID, *Server]
	channels *xsync.MapOf[snowflake.ID, *Channel]
	roles    *xsync.MapOf[snowflake.ID, *Role]

	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics

	// OnChannelInvalidate fires whenever a channel's member-visibility
	// cache is invalidated.
	OnChannelInvalidate func(*Channel)
	// OnUserRemoved fires after a user instance leaves the registry.
	OnUserRemoved func(*User)
	// OnServerRemoved fires after a server and its contents are torn down.
	OnServerRemoved func(*Server)
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		users:    xsync.NewMapOf[UserKey, *User](),
		servers:  xsync.NewMapOf[snowflake.ID, *Server](),
		channels: xsync.NewMapOf[snowflake.ID, *Channel](),
		roles:    xsync.NewMapOf[snowflake.ID, *Role](),
		now:      opts.Clock,
		log:      opts.Logger,
		metrics:  NewMetrics(),
	}
}

// Metrics returns the registry's runtime counters.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// Server returns the server with the given id, or nil.
func (r *Registry) Server(id snowflake.ID) *Server { return r.serverByID(id) }

// Channel returns the channel with the given id, or nil.
func (r *Registry) Channel(id snowflake.ID) *Channel { return r.channelByID(id) }

// Role returns the role with the given id, or nil.
func (r *Registry) Role(id snowflake.ID) *Role { return r.roleByID(id) }

// User returns the user instance for key, or nil.
func (r *Registry) User(key UserKey) *User {
	u, _ := r.users.Load(key)
	return u
}

// Member returns the server-scope instance of a user, or nil.
func (r *Registry) Member(serverID, userID snowflake.ID) *User {
	return r.User(UserKey{ServerID: serverID, UserID: userID})
}

// GlobalUser returns the server-independent instance of a user, or nil.
func (r *Registry) GlobalUser(id snowflake.ID) *User { return r.globalByID(id) }

// Servers returns all tracked servers ordered by id.
func (r *Registry) Servers() []*Server {
	out := make([]*Server, 0, r.servers.Size())
	r.servers.Range(func(_ snowflake.ID, s *Server) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Channels returns all tracked channels, private ones included, ordered
// by id.
func (r *Registry) Channels() []*Channel {
	out := make([]*Channel, 0, r.channels.Size())
	r.channels.Range(func(_ snowflake.ID, c *Channel) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Users returns all tracked user instances, global ones included, ordered
// by key.
func (r *Registry) Users() []*User {
	out := make([]*User, 0, r.users.Size())
	r.users.Range(func(_ UserKey, u *User) bool {
		out = append(out, u)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].key.ServerID != out[j].key.ServerID {
			return out[i].key.ServerID < out[j].key.ServerID
		}
		return out[i].key.UserID < out[j].key.UserID
	})
	return out
}

func (r *Registry) serverByID(id snowflake.ID) *Server {
	s, _ := r.servers.Load(id)
	return s
}

func (r *Registry) channelByID(id snowflake.ID) *Channel {
	c, _ := r.channels.Load(id)
	return c
}

func (r *Registry) roleByID(id snowflake.ID) *Role {
	role, _ := r.roles.Load(id)
	return role
}

func (r *Registry) globalByID(id snowflake.ID) *User {
	u, _ := r.users.Load(UserKey{UserID: id})
	return u
}

// channelInvalidated is wired as every channel's invalidation sink.
func (r *Registry) channelInvalidated(c *Channel) {
	r.metrics.Invalidations.Add(1)
	if cb := r.OnChannelInvalidate; cb != nil {
		cb(c)
	}
}

// ensureServer returns the server with the given id, creating an
// unsynchronized shell, with its implicit everyone role, on first sight.
func (r *Registry) ensureServer(id snowflake.ID) *Server {
	if id.IsZero() {
		return nil
	}
	s, loaded := r.servers.LoadOrCompute(id, func() *Server {
		return &Server{
			id:         id,
			afkChannel: NewRef(snowflake.Zero, r.channelByID),
			members:    xsync.NewMapOf[snowflake.ID, *User](),
			channels:   xsync.NewMapOf[snowflake.ID, *Channel](),
			roles:      xsync.NewMapOf[snowflake.ID, *Role](),
		}
	})
	if !loaded {
		r.metrics.ServersTracked.Add(1)
		r.ensureRole(id, id)
	}
	return s
}

// ensureRole returns the role with the given id, creating an unsynchronized
// shell bound to its server on first sight.
func (r *Registry) ensureRole(serverID, roleID snowflake.ID) *Role {
	if serverID.IsZero() || roleID.IsZero() {
		return nil
	}
	role, loaded := r.roles.LoadOrCompute(roleID, func() *Role {
		return &Role{id: roleID, server: NewRef(serverID, r.serverByID)}
	})
	if !loaded {
		r.metrics.RolesTracked.Add(1)
		if s := r.ensureServer(serverID); s != nil {
			s.addRole(role)
		}
	}
	return role
}

// ensureUser returns the user instance for key, creating it on first sight.
// A new server-scope instance is indexed into its server, seeded with a
// permission entry per existing channel, and given an initial resolution
// pass.
func (r *Registry) ensureUser(key UserKey) *User {
	if key.UserID.IsZero() {
		return nil
	}
	u, loaded := r.users.LoadOrCompute(key, func() *User { return r.newUser(key) })
	if loaded {
		return u
	}
	r.metrics.UsersTracked.Add(1)
	u.global.Load()
	u.server.Load()
	u.voice.Load()
	if key.ServerID.IsZero() {
		return u
	}
	s := r.ensureServer(key.ServerID)
	if s == nil {
		return u
	}
	s.addMember(u)
	s.forEachChannel(func(c *Channel) bool {
		u.ensureChannelEntry(c.id)
		return true
	})
	u.updateServerPermissions()
	return u
}

func (r *Registry) newUser(key UserKey) *User {
	u := &User{
		id:             key.UserID,
		key:            key,
		now:            r.now,
		log:            r.log,
		metrics:        r.metrics,
		resolveChannel: r.channelByID,
		resolveRole:    r.roleByID,
	}
	u.global = NewRef(key.UserID, r.globalByID)
	u.server = NewRef(key.ServerID, r.serverByID)
	u.voice = NewRef(snowflake.Zero, r.channelByID).OnTransition(
		func(c *Channel) { c.invalidateMembers() },
		func(c *Channel) { c.invalidateMembers() },
	)
	if !key.ServerID.IsZero() {
		u.channelPerms = xsync.NewMapOf[snowflake.ID, *channelEntry]()
		u.roles = map[snowflake.ID]*Ref[Role]{
			key.ServerID: NewRef(key.ServerID, r.roleByID),
		}
	}
	return u
}

// ensureChannel returns the channel addressed by rec, creating it on first
// sight when the record carries enough addressing to place it. A record
// with neither a server nor a recipient can only route to an already known
// channel.
func (r *Registry) ensureChannel(rec *feed.ChannelInfo) (c *Channel, created bool) {
	serverID := rec.ServerID
	var recipientID snowflake.ID
	if rec.RecipientID != nil {
		recipientID = *rec.RecipientID
	}
	kind := ""
	if rec.Kind != nil {
		kind = *rec.Kind
	}
	if kind == "" && !recipientID.IsZero() {
		kind = feed.ChannelPrivate
	}
	if serverID.IsZero() && recipientID.IsZero() {
		c, _ := r.channels.Load(rec.ID)
		return c, false
	}
	c, loaded := r.channels.LoadOrCompute(rec.ID, func() *Channel {
		ch := &Channel{
			id:        rec.ID,
			server:    NewRef(serverID, r.serverByID),
			recipient: NewRef(recipientID, r.globalByID),
		}
		ch.kind = kind
		ch.onInvalidate = r.channelInvalidated
		return ch
	})
	if !loaded {
		r.metrics.ChannelsTracked.Add(1)
	}
	return c, !loaded
}

// removeUser tears down one user instance: the registry and server indexes
// drop it, its references unload, and its cached permission entries are
// cleared.
func (r *Registry) removeUser(key UserKey) bool {
	u, ok := r.users.LoadAndDelete(key)
	if !ok {
		return false
	}
	r.metrics.UsersTracked.Add(-1)
	if s := r.serverByID(key.ServerID); s != nil {
		s.removeMember(key.UserID)
	}
	u.teardown()
	r.log.Debug("user removed", "user", key)
	if cb := r.OnUserRemoved; cb != nil {
		cb(u)
	}
	return true
}

// removeChannel tears down one channel: remaining members lose their cached
// entry for it, and a private channel detaches from its recipient.
func (r *Registry) removeChannel(id snowflake.ID) bool {
	c, ok := r.channels.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.metrics.ChannelsTracked.Add(-1)
	r.log.Debug("channel removed", "channel", id)
	if c.IsPrivate() {
		if u := r.globalByID(c.recipient.ID()); u != nil {
			u.clearPrivateChannel(id)
		}
		return true
	}
	if s := r.serverByID(c.server.ID()); s != nil {
		s.removeChannel(id)
		s.forEachMember(func(u *User) bool {
			u.dropChannelEntry(id)
			return true
		})
	}
	return true
}

// removeRole tears down one role: holders drop it and get a resolution
// pass.
func (r *Registry) removeRole(id snowflake.ID) bool {
	role, ok := r.roles.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.metrics.RolesTracked.Add(-1)
	s := r.serverByID(role.server.ID())
	if s == nil {
		r.log.Warn("role removed without resolvable server", "role", id)
		return true
	}
	s.removeRole(id)
	s.forEachMember(func(u *User) bool {
		if u.dropRole(id) {
			u.updateServerPermissions()
		}
		return true
	})
	return true
}

// removeServer tears down a server and everything it contains: members
// first, then channels, then roles. Role holders need no resolution pass
// because they are already gone.
func (r *Registry) removeServer(id snowflake.ID) bool {
	s, ok := r.servers.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.metrics.ServersTracked.Add(-1)
	s.forEachMember(func(u *User) bool {
		r.removeUser(u.key)
		return true
	})
	s.forEachChannel(func(c *Channel) bool {
		r.removeChannel(c.id)
		return true
	})
	s.roles.Range(func(rid snowflake.ID, _ *Role) bool {
		if _, had := r.roles.LoadAndDelete(rid); had {
			r.metrics.RolesTracked.Add(-1)
		}
		s.removeRole(rid)
		return true
	})
	r.log.Info("server removed", "server", id)
	if cb := r.OnServerRemoved; cb != nil {
		cb(s)
	}
	return true
}
