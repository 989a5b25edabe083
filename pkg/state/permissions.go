package state

import (
	"fmt"
	"sort"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/permission"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// ServerPermissions returns the committed server-scope bits. Always zero
// for private-scope users.
func (u *User) ServerPermissions() permission.Server {
	return permission.Server(u.serverPerms.Load())
}

// ChannelPermissions returns the committed channel-scope bits for c, or
// (nil, nil) when the channel is unknown to this user. Private users know
// only their own direct channel, which carries the full private mask.
func (u *User) ChannelPermissions(c *Channel) (*permission.Channel, error) {
	if c == nil {
		return nil, ErrNilChannel
	}
	if u.channelPerms == nil {
		u.mu.Lock()
		known := !u.privateChannelID.IsZero() && c.id == u.privateChannelID
		u.mu.Unlock()
		if !known {
			return nil, nil
		}
		v := permission.AllPrivate
		return &v, nil
	}
	e, ok := u.channelPerms.Load(c.id)
	if !ok {
		return nil, nil
	}
	v := permission.Channel(e.bits.Load())
	return &v, nil
}

// VisibleChannels returns the channels the user can currently see: the
// cached channels whose resolved bits include ReadMessages and whose target
// resolves, ordered by id. Private users see their direct channel once it
// is established.
func (u *User) VisibleChannels() []*Channel {
	if u.channelPerms == nil {
		if c := u.PrivateChannel(); c != nil {
			return []*Channel{c}
		}
		return nil
	}
	out := make([]*Channel, 0, u.channelPerms.Size())
	u.channelPerms.Range(func(_ snowflake.ID, e *channelEntry) bool {
		if !permission.Channel(e.bits.Load()).ReadMessages() {
			return true
		}
		if c := e.channel.Get(); c != nil {
			out = append(out, c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// channelBits reads the committed bits for a channel id without resolving.
func (u *User) channelBits(id snowflake.ID) (uint64, bool) {
	if u.channelPerms == nil {
		return 0, false
	}
	e, ok := u.channelPerms.Load(id)
	if !ok {
		return 0, false
	}
	return e.bits.Load(), true
}

// ensureChannelEntry creates the cached entry for a server channel and
// resolves its bits. For an existing entry it only re-resolves, which is
// how overwrite changes are propagated.
func (u *User) ensureChannelEntry(id snowflake.ID) {
	if u.channelPerms == nil || id.IsZero() {
		return
	}
	e, _ := u.channelPerms.LoadOrCompute(id, func() *channelEntry {
		return &channelEntry{channel: NewRef(id, u.resolveChannel)}
	})
	u.mu.Lock()
	u.resolveChannelLocked(e)
	u.mu.Unlock()
}

// dropChannelEntry removes the cached entry for a deleted channel.
func (u *User) dropChannelEntry(id snowflake.ID) {
	if u.channelPerms == nil {
		return
	}
	u.channelPerms.Delete(id)
}

// updateServerPermissions recomputes the server-scope bits from ownership
// and held roles. On change it commits and recomputes every cached channel
// entry; an unchanged result short-circuits the channel pass entirely.
func (u *User) updateServerPermissions() {
	if u.channelPerms == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updateServerPermissionsLocked()
}

func (u *User) updateServerPermissionsLocked() {
	s := u.server.Get()
	if s == nil {
		u.metrics.UnresolvedRefs.Add(1)
		return
	}

	var bits uint64
	if s.IsOwner(u.id) {
		bits = permission.AllServer.Raw()
	} else {
		for _, ref := range u.roles {
			r := ref.Get()
			if r == nil {
				u.metrics.UnresolvedRefs.Add(1)
				continue
			}
			bits |= r.perms.Load()
		}
		if permission.Has(bits, permission.ManageRolesOrPermissions) {
			bits = permission.AllServer.Raw()
		}
	}

	if u.serverPerms.Load() == bits {
		u.metrics.ShortCircuits.Add(1)
		return
	}
	u.serverPerms.Store(bits)
	u.metrics.ServerRecomputes.Add(1)
	u.log.Debug("server permissions committed", "user", u.key, "bits", bits)

	u.channelPerms.Range(func(_ snowflake.ID, e *channelEntry) bool {
		u.resolveChannelLocked(e)
		return true
	})
}

// resolveChannelLocked recomputes one cached entry: server bits, the four
// overwrite passes in precedence order, the kind clamp, and the post-clamp
// escalation and visibility rules. The result is committed only when it
// differs, and a commit invalidates the channel's member cache. The channel
// must belong to this user's server; a mismatch is a wiring fault.
func (u *User) resolveChannelLocked(e *channelEntry) {
	c := e.channel.Get()
	if c == nil {
		u.metrics.UnresolvedRefs.Add(1)
		return
	}
	if sid := c.server.ID(); sid != u.key.ServerID {
		panic(fmt.Sprintf("state: channel %d of server %d resolved for user %s", c.id, sid, u.key))
	}
	mask := c.applicableMask()
	s := u.server.Get()

	var bits uint64
	if s != nil && s.IsOwner(u.id) {
		bits = mask
	} else {
		bits = u.serverPerms.Load()
		overwrites := c.overwriteSnapshot()
		for _, ow := range overwrites {
			if ow.Type == feed.OverwriteRole && u.holdsRoleLocked(ow.TargetID) {
				bits &^= ow.Deny
			}
		}
		for _, ow := range overwrites {
			if ow.Type == feed.OverwriteRole && u.holdsRoleLocked(ow.TargetID) {
				bits |= ow.Allow
			}
		}
		for _, ow := range overwrites {
			if ow.Type == feed.OverwriteMember && ow.TargetID == u.id {
				bits &^= ow.Deny
			}
		}
		for _, ow := range overwrites {
			if ow.Type == feed.OverwriteMember && ow.TargetID == u.id {
				bits |= ow.Allow
			}
		}
		bits &= mask
		switch {
		case permission.Has(bits, permission.ManageRolesOrPermissions):
			bits = mask
		case !permission.Channel(bits).ReadMessages():
			bits = permission.NoneChannel.Raw()
		}
	}

	if e.bits.Load() == bits {
		u.metrics.ShortCircuits.Add(1)
		return
	}
	e.bits.Store(bits)
	u.metrics.ChannelRecomputes.Add(1)
	c.invalidateMembers()
}
