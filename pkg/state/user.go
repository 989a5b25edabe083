package state

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/snowflake"
)

// UserKey addresses one user instance. The same account appears once per
// server it is a member of, plus once in the private scope, where ServerID
// is zero.
type UserKey struct {
	ServerID snowflake.ID
	UserID   snowflake.ID
}

func (k UserKey) String() string {
	return fmt.Sprintf("%d/%d", k.ServerID, k.UserID)
}

// channelEntry pairs a channel reference with the user's committed
// channel-scope bits for it. Bits are read lock-free; commits happen under
// the owning user's mutex.
type channelEntry struct {
	channel *Ref[Channel]
	bits    atomic.Uint64
}

// User is one account in one scope: profile fields, presence, voice state,
// held roles, and the cached permission values the resolution engine
// maintains. Private-scope users carry no roles and no permission state.
type User struct {
	id  snowflake.ID
	key UserKey

	global *Ref[User]
	server *Ref[Server]
	voice  *Ref[Channel]

	// serverPerms holds the committed server-scope bits, read lock-free.
	serverPerms atomic.Uint64

	// channelPerms maps channel id to the user's cached entry for it.
	// Nil for private-scope users.
	channelPerms *xsync.MapOf[snowflake.ID, *channelEntry]

	resolveChannel func(snowflake.ID) *Channel
	resolveRole    func(snowflake.ID) *Role

	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics

	// mu serializes role-set mutation and permission commits for this
	// user. It never acquires another entity's mutex.
	mu            sync.Mutex
	name          string
	discriminator uint16
	avatar        string
	joinedAt      time.Time
	synced        bool

	status       Status
	gameID       *int64
	lastActivity time.Time
	lastOnline   time.Time

	sessionID  string
	token      string
	selfMute   bool
	selfDeaf   bool
	serverMute bool
	serverDeaf bool
	suppress   bool
	speaking   bool

	roles map[snowflake.ID]*Ref[Role]

	privateChannelID snowflake.ID
}

// ID returns the account's identity, shared across all scopes.
func (u *User) ID() snowflake.ID { return u.id }

// Key returns the composite scope key for this instance.
func (u *User) Key() UserKey { return u.key }

// IsPrivate reports whether this is the server-independent instance.
func (u *User) IsPrivate() bool { return u.key.ServerID == snowflake.Zero }

// Server resolves the owning server, or nil for private users and servers
// not yet synchronized.
func (u *User) Server() *Server { return u.server.Get() }

// GlobalUser resolves the server-independent instance of this account.
func (u *User) GlobalUser() *User { return u.global.Get() }

// VoiceChannel resolves the channel the user is currently connected to.
func (u *User) VoiceChannel() *Channel { return u.voice.Get() }

// VoiceChannelID returns the identity of the current voice channel, zero
// when not in voice.
func (u *User) VoiceChannelID() snowflake.ID { return u.voice.ID() }

func (u *User) Name() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.name
}

func (u *User) Discriminator() uint16 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discriminator
}

// Avatar returns the avatar identifier, empty when unset.
func (u *User) Avatar() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.avatar
}

// String returns the display tag, name#discriminator.
func (u *User) String() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return fmt.Sprintf("%s#%04d", u.name, u.discriminator)
}

// Mention returns the inline mention form of the account id.
func (u *User) Mention() string { return fmt.Sprintf("<@%d>", u.id) }

// JoinedAt returns the membership timestamp for server-scope instances.
func (u *User) JoinedAt() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.joinedAt, !u.joinedAt.IsZero()
}

// Synced reports whether at least one update record has populated the user.
func (u *User) Synced() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.synced
}

// Status returns the current presence status.
func (u *User) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// GameID returns the current activity identifier, if one is set.
func (u *User) GameID() (int64, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.gameID == nil {
		return 0, false
	}
	return *u.gameID, true
}

// LastActivity returns the most recent activity timestamp, if any.
func (u *User) LastActivity() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastActivity, !u.lastActivity.IsZero()
}

// LastOnline returns when the user was last seen online. While the user is
// online this is the current time; after they go offline it is the moment
// of the transition.
func (u *User) LastOnline() (time.Time, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.status.Online() {
		return u.now(), true
	}
	return u.lastOnline, !u.lastOnline.IsZero()
}

// RestoreLastOnline seeds the stored last-online timestamp during snapshot
// warm-start. A value already set by a live status transition wins.
func (u *User) RestoreLastOnline(t time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.lastOnline.IsZero() {
		u.lastOnline = t
	}
}

// UpdateActivity advances the last-activity timestamp. Regressions are
// ignored, so replayed or reordered inputs cannot move it backwards.
func (u *User) UpdateActivity(t time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t.After(u.lastActivity) {
		u.lastActivity = t
	}
}

// SessionID returns the voice session identifier, empty when not connected.
func (u *User) SessionID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sessionID
}

// Token returns the voice gateway credential, empty when not connected.
func (u *User) Token() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.token
}

func (u *User) IsSelfMuted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.selfMute
}

func (u *User) IsSelfDeafened() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.selfDeaf
}

func (u *User) IsServerMuted() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.serverMute
}

func (u *User) IsServerDeafened() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.serverDeaf
}

func (u *User) IsSuppressed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.suppress
}

func (u *User) IsSpeaking() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.speaking
}

// SetSpeaking records voice activity as reported by a voice transport.
func (u *User) SetSpeaking(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.speaking = v
}

// PrivateChannel resolves the direct conversation channel with this account,
// if one has been established. Meaningful on the private-scope instance.
func (u *User) PrivateChannel() *Channel {
	u.mu.Lock()
	id := u.privateChannelID
	u.mu.Unlock()
	if id.IsZero() {
		return nil
	}
	return u.resolveChannel(id)
}

func (u *User) setPrivateChannel(id snowflake.ID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.privateChannelID = id
}

func (u *User) clearPrivateChannel(id snowflake.ID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.privateChannelID == id {
		u.privateChannelID = snowflake.Zero
	}
}

// Roles returns the resolved roles the user holds, the implicit everyone
// role included, ordered by id.
func (u *User) Roles() []*Role {
	u.mu.Lock()
	refs := make([]*Ref[Role], 0, len(u.roles))
	for _, ref := range u.roles {
		refs = append(refs, ref)
	}
	u.mu.Unlock()

	out := make([]*Role, 0, len(refs))
	for _, ref := range refs {
		if r := ref.Get(); r != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// HasRole reports whether the user currently holds r.
func (u *User) HasRole(r *Role) (bool, error) {
	if r == nil {
		return false, ErrNilRole
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.holdsRoleLocked(r.id), nil
}

func (u *User) holdsRoleLocked(id snowflake.ID) bool {
	_, ok := u.roles[id]
	return ok
}

func (u *User) holdsRole(id snowflake.ID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.holdsRoleLocked(id)
}

// setRolesLocked replaces the held-role set from an id list. The server's
// everyone role is always appended; existing references are reused so an
// unchanged id keeps its ref.
func (u *User) setRolesLocked(ids []snowflake.ID) {
	next := make(map[snowflake.ID]*Ref[Role], len(ids)+1)
	keep := func(id snowflake.ID) {
		if id.IsZero() {
			return
		}
		if _, ok := next[id]; ok {
			return
		}
		if ref, ok := u.roles[id]; ok {
			next[id] = ref
		} else {
			next[id] = NewRef(id, u.resolveRole)
		}
	}
	for _, id := range ids {
		keep(id)
	}
	keep(u.key.ServerID)
	u.roles = next
}

// dropRole removes a deleted role from the held set and reports whether it
// was present. The caller owes a server-scope resolution pass when it was.
func (u *User) dropRole(id snowflake.ID) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.roles[id]; !ok {
		return false
	}
	delete(u.roles, id)
	return true
}

// applyUser copies the profile fields present in rec.
func (u *User) applyUser(rec *feed.UserReference) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applyUserLocked(rec)
}

func (u *User) applyUserLocked(rec *feed.UserReference) {
	if rec == nil {
		return
	}
	if rec.Username != nil {
		u.name = *rec.Username
	}
	if rec.Discriminator != nil {
		u.discriminator = *rec.Discriminator
	}
	if rec.Avatar != nil {
		u.avatar = *rec.Avatar
	}
	u.synced = true
}

// applyMember copies the fields present in rec and reports whether the
// held-role set was replaced; the caller owes a server-scope resolution
// pass when it was.
func (u *User) applyMember(rec *feed.MemberInfo) (rolesChanged bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applyUserLocked(rec.User)
	if rec.JoinedAt != nil {
		u.joinedAt = *rec.JoinedAt
	}
	if rec.Roles != nil {
		u.setRolesLocked(rec.Roles)
		rolesChanged = true
	}
	u.synced = true
	return rolesChanged
}

// applyExtendedMember is applyMember plus the server mute and deafen flags.
func (u *User) applyExtendedMember(rec *feed.ExtendedMemberInfo) (rolesChanged bool) {
	rolesChanged = u.applyMember(&rec.MemberInfo)
	u.mu.Lock()
	defer u.mu.Unlock()
	if rec.Mute != nil {
		u.serverMute = *rec.Mute
	}
	if rec.Deaf != nil {
		u.serverDeaf = *rec.Deaf
	}
	return rolesChanged
}

// applyPresence copies status, activity, and role fields present in rec.
// The moment of an online-to-offline transition is recorded as the
// last-online timestamp.
func (u *User) applyPresence(rec *feed.PresenceInfo) (rolesChanged bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applyUserLocked(rec.User)
	if rec.Status != nil {
		next := ParseStatus(*rec.Status)
		if u.status.Online() && !next.Online() {
			u.lastOnline = u.now()
		}
		u.status = next
	}
	if rec.GameID.IsNull() {
		u.gameID = nil
	} else if v, ok := rec.GameID.Value(); ok {
		u.gameID = &v
	}
	if rec.Roles != nil {
		u.setRolesLocked(rec.Roles)
		rolesChanged = true
	}
	u.synced = true
	return rolesChanged
}

// applyVoice copies voice session fields present in rec, then moves the
// voice channel reference. A move out of one channel and into another
// invalidates both member caches, departure first.
func (u *User) applyVoice(rec *feed.VoiceMemberInfo) {
	u.mu.Lock()
	if rec.SessionID != nil {
		u.sessionID = *rec.SessionID
	}
	if rec.Token != nil {
		u.token = *rec.Token
	}
	if rec.Mute != nil {
		u.serverMute = *rec.Mute
	}
	if rec.Deaf != nil {
		u.serverDeaf = *rec.Deaf
	}
	if rec.SelfMute != nil {
		u.selfMute = *rec.SelfMute
	}
	if rec.SelfDeaf != nil {
		u.selfDeaf = *rec.SelfDeaf
	}
	if rec.Suppress != nil {
		u.suppress = *rec.Suppress
	}
	u.synced = true
	u.mu.Unlock()

	if rec.ChannelID.IsNull() {
		u.voice.SetID(snowflake.Zero)
	} else if id, ok := rec.ChannelID.Value(); ok {
		u.voice.SetID(id)
	}
}

// teardown unloads the user's references on removal. Unloading the voice
// reference fires the departed channel's member-cache invalidation.
func (u *User) teardown() {
	u.voice.Unload()
	u.server.Unload()
	u.global.Unload()
	if u.channelPerms != nil {
		u.channelPerms.Clear()
	}
}
