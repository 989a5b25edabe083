package state

import (
	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// Apply routes one update event to the entity graph. A record is applied to
// completion before Apply returns; it never partially lands. Events from
// independent streams may be applied concurrently, provided events
// addressing one user arrive in order.
func (r *Registry) Apply(evt *feed.Event) error {
	if evt == nil {
		return ErrNilEvent
	}
	var applied bool
	switch {
	case evt.ServerCreate != nil:
		applied = r.applyServer(evt.ServerCreate)
	case evt.ServerUpdate != nil:
		applied = r.applyServer(evt.ServerUpdate)
	case evt.ServerDelete != nil:
		applied = r.removeServer(evt.ServerDelete.ID)
	case evt.ChannelCreate != nil:
		applied = r.applyChannel(evt.ChannelCreate)
	case evt.ChannelUpdate != nil:
		applied = r.applyChannel(evt.ChannelUpdate)
	case evt.ChannelDelete != nil:
		applied = r.removeChannel(evt.ChannelDelete.ID)
	case evt.RoleCreate != nil:
		applied = r.applyRole(evt.RoleCreate)
	case evt.RoleUpdate != nil:
		applied = r.applyRole(evt.RoleUpdate)
	case evt.RoleDelete != nil:
		applied = r.removeRole(evt.RoleDelete.ID)
	case evt.MemberAdd != nil:
		applied = r.applyMemberInfo(evt.MemberAdd)
	case evt.MemberUpdate != nil:
		applied = r.applyExtendedMemberInfo(evt.MemberUpdate)
	case evt.MemberRemove != nil:
		applied = r.removeUser(UserKey{ServerID: evt.MemberRemove.ServerID, UserID: evt.MemberRemove.ID})
	case evt.PresenceUpdate != nil:
		applied = r.applyPresenceInfo(evt.PresenceUpdate)
	case evt.VoiceStateUpdate != nil:
		applied = r.applyVoiceState(evt.VoiceStateUpdate)
	case evt.UserUpdate != nil:
		applied = r.applyGlobalUser(evt.UserUpdate)
	}
	if applied {
		r.metrics.EventsApplied.Add(1)
	} else {
		r.metrics.EventsSkipped.Add(1)
		r.log.Debug("event skipped", "kind", evt.Kind())
	}
	return nil
}

// applyServer lands a full or partial server record: the server's own
// fields first, then the contained slices in dependency order so channels
// resolve against roles and members against channels. An ownership move
// re-resolves every member.
func (r *Registry) applyServer(rec *feed.ServerInfo) bool {
	if rec.ID.IsZero() {
		return false
	}
	s := r.ensureServer(rec.ID)
	ownerChanged := s.apply(rec)

	for i := range rec.Roles {
		role := rec.Roles[i]
		if role.ServerID.IsZero() {
			role.ServerID = rec.ID
		}
		r.applyRole(&role)
	}
	for i := range rec.Channels {
		ch := rec.Channels[i]
		if ch.ServerID.IsZero() && ch.RecipientID == nil {
			ch.ServerID = rec.ID
		}
		r.applyChannel(&ch)
	}
	for i := range rec.Members {
		m := rec.Members[i]
		if m.ServerID.IsZero() {
			m.ServerID = rec.ID
		}
		r.applyMemberInfo(&m)
	}
	for i := range rec.Presences {
		p := rec.Presences[i]
		if p.ServerID.IsZero() {
			p.ServerID = rec.ID
		}
		r.applyPresenceInfo(&p)
	}
	for i := range rec.VoiceStates {
		v := rec.VoiceStates[i]
		if v.ServerID.IsZero() {
			v.ServerID = rec.ID
		}
		r.applyVoiceState(&v)
	}

	if ownerChanged {
		s.forEachMember(func(u *User) bool {
			u.updateServerPermissions()
			return true
		})
	}
	return true
}

// applyRole lands a role record. A change to the permission bits
// re-resolves every member holding the role; everyone else is untouched.
func (r *Registry) applyRole(rec *feed.RoleInfo) bool {
	role := r.ensureRole(rec.ServerID, rec.ID)
	if role == nil {
		return false
	}
	if !role.apply(rec) {
		return true
	}
	if s := r.serverByID(rec.ServerID); s != nil {
		s.forEachMember(func(u *User) bool {
			if u.holdsRole(rec.ID) {
				u.updateServerPermissions()
			}
			return true
		})
	}
	return true
}

// applyChannel lands a channel record. A newly created server channel gets
// a permission entry for every member; an overwrite change re-resolves the
// existing entries. A new private channel attaches to its recipient.
func (r *Registry) applyChannel(rec *feed.ChannelInfo) bool {
	if rec.ID.IsZero() {
		return false
	}
	c, created := r.ensureChannel(rec)
	if c == nil {
		return false
	}
	overwritesChanged := c.apply(rec)

	if c.IsPrivate() {
		if created {
			if u := r.ensureUser(UserKey{UserID: c.recipient.ID()}); u != nil {
				u.setPrivateChannel(c.id)
			}
		}
		return true
	}
	s := r.ensureServer(c.server.ID())
	if s == nil {
		return false
	}
	if created {
		s.addChannel(c)
	}
	if created || overwritesChanged {
		s.forEachMember(func(u *User) bool {
			u.ensureChannelEntry(c.id)
			return true
		})
	}
	return true
}

// applyMemberInfo lands a membership record, creating the member instance
// on first sight. A replaced role set triggers a resolution pass.
func (r *Registry) applyMemberInfo(rec *feed.MemberInfo) bool {
	u := r.memberTarget(rec.ServerID, rec.User)
	if u == nil {
		return false
	}
	if u.applyMember(rec) {
		u.updateServerPermissions()
	}
	return true
}

// applyExtendedMemberInfo is applyMemberInfo for records carrying the
// server-level voice moderation flags.
func (r *Registry) applyExtendedMemberInfo(rec *feed.ExtendedMemberInfo) bool {
	u := r.memberTarget(rec.ServerID, rec.User)
	if u == nil {
		return false
	}
	if u.applyExtendedMember(rec) {
		u.updateServerPermissions()
	}
	return true
}

// applyPresenceInfo lands a presence record. Presence never introduces a
// member: an instance that was not announced by a membership record is
// skipped.
func (r *Registry) applyPresenceInfo(rec *feed.PresenceInfo) bool {
	if rec.ServerID.IsZero() || rec.User == nil || rec.User.ID.IsZero() {
		return false
	}
	u := r.Member(rec.ServerID, rec.User.ID)
	if u == nil {
		r.log.Debug("presence for unknown member", "server", rec.ServerID, "user", rec.User.ID)
		return false
	}
	if u.applyPresence(rec) {
		u.updateServerPermissions()
	}
	return true
}

// applyVoiceState lands a voice record on an existing member.
func (r *Registry) applyVoiceState(rec *feed.VoiceMemberInfo) bool {
	if rec.ServerID.IsZero() || rec.UserID.IsZero() {
		return false
	}
	u := r.Member(rec.ServerID, rec.UserID)
	if u == nil {
		return false
	}
	u.applyVoice(rec)
	return true
}

// applyGlobalUser lands a profile record on the server-independent
// instance, creating it on first sight.
func (r *Registry) applyGlobalUser(rec *feed.UserReference) bool {
	if rec.ID.IsZero() {
		return false
	}
	u := r.ensureUser(UserKey{UserID: rec.ID})
	if u == nil {
		return false
	}
	u.applyUser(rec)
	return true
}

func (r *Registry) memberTarget(serverID snowflake.ID, ref *feed.UserReference) *User {
	if serverID.IsZero() || ref == nil || ref.ID.IsZero() {
		return nil
	}
	return r.ensureUser(UserKey{ServerID: serverID, UserID: ref.ID})
}
