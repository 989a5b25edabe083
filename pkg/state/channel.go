package state

import (
	"sync"
	"sync/atomic"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/permission"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Overwrite adjusts channel permissions for one role or one user. Deny bits
// are cleared before allow bits are applied.
type Overwrite struct {
	TargetID snowflake.ID
	Type     string
	Allow    uint64
	Deny     uint64
}

// Channel is a text, voice, or private conversation surface. Server channels
// carry an overwrite list consulted by permission resolution; private
// channels belong to no server and pair the owner with a single recipient.
type Channel struct {
	id snowflake.ID

	server    *Ref[Server]
	recipient *Ref[User]

	// overwrites is replaced wholesale on update and read lock-free by
	// the resolution engine.
	overwrites atomic.Pointer[[]Overwrite]

	// membersStale marks the visibility cache dirty without blocking on mu.
	membersStale atomic.Bool

	onInvalidate func(*Channel)

	mu       sync.Mutex
	kind     string
	name     string
	topic    string
	position int
	synced   bool
	members  []snowflake.ID
}

// ID returns the channel's identity.
func (c *Channel) ID() snowflake.ID { return c.id }

// Server resolves the owning server, or nil for private channels and
// channels whose server is absent.
func (c *Channel) Server() *Server { return c.server.Get() }

// ServerID returns the identity of the owning server, zero for private
// channels.
func (c *Channel) ServerID() snowflake.ID { return c.server.ID() }

// Recipient resolves the other participant of a private channel.
func (c *Channel) Recipient() *User { return c.recipient.Get() }

// RecipientID returns the identity of the private-channel recipient, zero
// for server channels.
func (c *Channel) RecipientID() snowflake.ID { return c.recipient.ID() }

func (c *Channel) Kind() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind
}

// IsPrivate reports whether this is a direct conversation channel.
func (c *Channel) IsPrivate() bool { return c.Kind() == feed.ChannelPrivate }

func (c *Channel) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Channel) Topic() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic
}

func (c *Channel) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// Synced reports whether at least one update record has populated the channel.
func (c *Channel) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// Overwrites returns a copy of the current permission overwrite list.
func (c *Channel) Overwrites() []Overwrite {
	p := c.overwrites.Load()
	if p == nil {
		return nil
	}
	out := make([]Overwrite, len(*p))
	copy(out, *p)
	return out
}

// overwriteSnapshot exposes the live slice for the resolution engine. The
// slice is never mutated after publication.
func (c *Channel) overwriteSnapshot() []Overwrite {
	p := c.overwrites.Load()
	if p == nil {
		return nil
	}
	return *p
}

// applicableMask is the set of permission bits that are meaningful for this
// channel's kind. Resolved values are clamped to it.
func (c *Channel) applicableMask() uint64 {
	switch c.Kind() {
	case feed.ChannelVoice:
		return permission.AllVoice.Raw()
	case feed.ChannelPrivate:
		return permission.AllPrivate.Raw()
	default:
		return permission.AllText.Raw()
	}
}

// apply copies the fields present in rec onto the channel. A non-nil
// overwrite list replaces the previous one wholesale; the return value tells
// the caller whether member permissions for this channel need recomputing.
func (c *Channel) apply(rec *feed.ChannelInfo) (overwritesChanged bool) {
	c.mu.Lock()
	if rec.Kind != nil && c.kind == "" {
		c.kind = *rec.Kind
	}
	if rec.Name != nil {
		c.name = *rec.Name
	}
	if rec.Topic != nil {
		c.topic = *rec.Topic
	}
	if rec.Position != nil {
		c.position = *rec.Position
	}
	c.synced = true
	c.mu.Unlock()

	if rec.Overwrites == nil {
		return false
	}
	next := make([]Overwrite, len(rec.Overwrites))
	for i, ow := range rec.Overwrites {
		next[i] = Overwrite{
			TargetID: ow.TargetID,
			Type:     ow.Type,
			Allow:    ow.Allow,
			Deny:     ow.Deny,
		}
	}
	prev := c.overwrites.Swap(&next)
	if prev == nil {
		return len(next) > 0
	}
	return !equalOverwrites(*prev, next)
}

func equalOverwrites(a, b []Overwrite) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// invalidateMembers marks the visibility cache stale and notifies any
// registered observer. Called by the engine when a member's resolved bits
// for this channel change, and on voice transitions in and out.
func (c *Channel) invalidateMembers() {
	c.membersStale.Store(true)
	if c.onInvalidate != nil {
		c.onInvalidate(c)
	}
}

// Members returns the users that can currently see the channel: for server
// channels, members whose resolved bits include ReadMessages; for private
// channels, the recipient. The backing id list is rebuilt lazily after
// invalidation.
func (c *Channel) Members() []*User {
	if c.IsPrivate() {
		if u := c.recipient.Get(); u != nil {
			return []*User{u}
		}
		return nil
	}
	s := c.server.Get()
	if s == nil {
		return nil
	}

	c.mu.Lock()
	if c.membersStale.Swap(false) || c.members == nil {
		ids := make([]snowflake.ID, 0, len(c.members))
		s.forEachMember(func(u *User) bool {
			if bits, ok := u.channelBits(c.id); ok && permission.Channel(bits).ReadMessages() {
				ids = append(ids, u.ID())
			}
			return true
		})
		c.members = ids
	}
	ids := c.members
	c.mu.Unlock()

	out := make([]*User, 0, len(ids))
	for _, id := range ids {
		if u := s.Member(id); u != nil {
			out = append(out, u)
		}
	}
	return out
}
