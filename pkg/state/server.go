package state

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Server is one chat server: a role set, a channel set, and a member set,
// plus the owner whose permissions bypass resolution. The implicit everyone
// role and the default channel both share the server's id.
type Server struct {
	id snowflake.ID

	// ownerID is read lock-free on every resolution pass.
	ownerID atomic.Int64

	afkChannel *Ref[Channel]

	members  *xsync.MapOf[snowflake.ID, *User]
	channels *xsync.MapOf[snowflake.ID, *Channel]
	roles    *xsync.MapOf[snowflake.ID, *Role]

	mu         sync.Mutex
	name       string
	region     string
	icon       string
	afkTimeout int
	synced     bool
}

// ID returns the server's identity.
func (s *Server) ID() snowflake.ID { return s.id }

func (s *Server) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Server) Region() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region
}

// Icon returns the icon identifier, empty when the server has none.
func (s *Server) Icon() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.icon
}

// Synced reports whether at least one update record has populated the server.
func (s *Server) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

// OwnerID returns the owning user's identity.
func (s *Server) OwnerID() snowflake.ID {
	return snowflake.ID(s.ownerID.Load())
}

// Owner resolves the owning user among the members, or nil while absent.
func (s *Server) Owner() *User { return s.Member(s.OwnerID()) }

// IsOwner reports whether id identifies the server owner.
func (s *Server) IsOwner(id snowflake.ID) bool {
	return id != snowflake.Zero && id == s.OwnerID()
}

// EveryoneRole returns the implicit role all members hold, or nil before the
// server has been populated.
func (s *Server) EveryoneRole() *Role { return s.Role(s.id) }

// DefaultChannel returns the channel sharing the server's id, or nil.
func (s *Server) DefaultChannel() *Channel { return s.GetChannel(s.id) }

// AFKChannel resolves the configured idle channel, or nil.
func (s *Server) AFKChannel() *Channel { return s.afkChannel.Get() }

// AFKChannelID returns the identity of the configured idle channel, zero
// when unset.
func (s *Server) AFKChannelID() snowflake.ID { return s.afkChannel.ID() }

// AFKTimeout returns the idle timeout in seconds.
func (s *Server) AFKTimeout() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.afkTimeout
}

// Member returns the member with the given user id, or nil.
func (s *Server) Member(id snowflake.ID) *User {
	u, _ := s.members.Load(id)
	return u
}

// Role returns the role with the given id, or nil.
func (s *Server) Role(id snowflake.ID) *Role {
	r, _ := s.roles.Load(id)
	return r
}

// GetChannel returns the channel with the given id, or nil.
func (s *Server) GetChannel(id snowflake.ID) *Channel {
	c, _ := s.channels.Load(id)
	return c
}

// MemberCount returns the number of members currently tracked.
func (s *Server) MemberCount() int { return s.members.Size() }

// Members returns the current members ordered by id.
func (s *Server) Members() []*User {
	out := make([]*User, 0, s.members.Size())
	s.members.Range(func(_ snowflake.ID, u *User) bool {
		out = append(out, u)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Channels returns the current channels ordered by id.
func (s *Server) Channels() []*Channel {
	out := make([]*Channel, 0, s.channels.Size())
	s.channels.Range(func(_ snowflake.ID, c *Channel) bool {
		out = append(out, c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Roles returns the current roles ordered by id.
func (s *Server) Roles() []*Role {
	out := make([]*Role, 0, s.roles.Size())
	s.roles.Range(func(_ snowflake.ID, r *Role) bool {
		out = append(out, r)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Server) forEachMember(fn func(*User) bool) {
	s.members.Range(func(_ snowflake.ID, u *User) bool {
		return fn(u)
	})
}

func (s *Server) forEachChannel(fn func(*Channel) bool) {
	s.channels.Range(func(_ snowflake.ID, c *Channel) bool {
		return fn(c)
	})
}

func (s *Server) addMember(u *User)             { s.members.Store(u.ID(), u) }
func (s *Server) removeMember(id snowflake.ID)  { s.members.Delete(id) }
func (s *Server) addChannel(c *Channel)         { s.channels.Store(c.id, c) }
func (s *Server) removeChannel(id snowflake.ID) { s.channels.Delete(id) }
func (s *Server) addRole(r *Role)               { s.roles.Store(r.id, r) }
func (s *Server) removeRole(id snowflake.ID)    { s.roles.Delete(id) }

// apply copies the fields present in rec onto the server and reports whether
// ownership moved; the caller owes every member a resolution pass when it
// did. Contained role, channel, member, presence, and voice slices are
// routed by the registry, not here.
func (s *Server) apply(rec *feed.ServerInfo) (ownerChanged bool) {
	s.mu.Lock()
	if rec.Name != nil {
		s.name = *rec.Name
	}
	if rec.Region != nil {
		s.region = *rec.Region
	}
	if rec.Icon != nil {
		s.icon = *rec.Icon
	}
	if rec.AFKTimeout != nil {
		s.afkTimeout = *rec.AFKTimeout
	}
	s.synced = true
	s.mu.Unlock()

	if rec.AFKChannelID.IsNull() {
		s.afkChannel.SetID(snowflake.Zero)
	} else if id, ok := rec.AFKChannelID.Value(); ok {
		s.afkChannel.SetID(id)
	}

	if rec.OwnerID != nil {
		ownerChanged = s.ownerID.Swap(int64(*rec.OwnerID)) != int64(*rec.OwnerID)
	}
	return ownerChanged
}
