// Package feed defines the already-parsed update records the state graph
// consumes, and a JSON-lines event log format for captures and replay.
//
// Records follow an absent-means-unchanged contract: a nil pointer (or nil
// slice) leaves the corresponding entity field untouched. The few fields a
// producer may explicitly clear are declared as [Field] values. The network
// decoder that produces records lives outside this module; nothing here
// touches a socket.
package feed

import (
	"time"

	"github.com/jhgg/discordstate/pkg/snowflake"
)

// UserReference carries partial profile fields for one user.
type UserReference struct {
	ID            snowflake.ID `json:"id"`
	Username      *string      `json:"username,omitempty"`
	Discriminator *uint16      `json:"discriminator,omitempty"`
	Avatar        *string      `json:"avatar,omitempty"`
}

// MemberInfo describes a user's membership in a server. A nil Roles slice
// leaves the member's role set unchanged; an empty non-nil slice strips all
// explicit roles (the implicit everyone role always remains).
type MemberInfo struct {
	ServerID snowflake.ID   `json:"server_id"`
	User     *UserReference `json:"user,omitempty"`
	JoinedAt *time.Time     `json:"joined_at,omitempty"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
}

// ExtendedMemberInfo is MemberInfo plus server-level voice moderation flags.
type ExtendedMemberInfo struct {
	MemberInfo
	Mute *bool `json:"mute,omitempty"`
	Deaf *bool `json:"deaf,omitempty"`
}

// PresenceInfo describes a user's presence within a server. GameID honors an
// explicit null: the activity is cleared rather than left unchanged.
type PresenceInfo struct {
	ServerID snowflake.ID   `json:"server_id"`
	User     *UserReference `json:"user,omitempty"`
	Roles    []snowflake.ID `json:"roles,omitempty"`
	Status   *string        `json:"status,omitempty"`
	GameID   Field[int64]   `json:"game_id,omitzero"`
}

// VoiceMemberInfo describes a user's voice connection state. ChannelID honors
// an explicit null: the user left voice entirely.
type VoiceMemberInfo struct {
	ServerID  snowflake.ID        `json:"server_id"`
	UserID    snowflake.ID        `json:"user_id"`
	ChannelID Field[snowflake.ID] `json:"channel_id,omitzero"`
	SessionID *string             `json:"session_id,omitempty"`
	Token     *string             `json:"token,omitempty"`
	Mute      *bool               `json:"mute,omitempty"`
	Deaf      *bool               `json:"deaf,omitempty"`
	SelfMute  *bool               `json:"self_mute,omitempty"`
	SelfDeaf  *bool               `json:"self_deaf,omitempty"`
	Suppress  *bool               `json:"suppress,omitempty"`
}

// RoleInfo describes a role. Permissions is the raw server-scope bitmask.
type RoleInfo struct {
	ServerID    snowflake.ID `json:"server_id"`
	ID          snowflake.ID `json:"id"`
	Name        *string      `json:"name,omitempty"`
	Permissions *uint64      `json:"permissions,omitempty"`
	Hoist       *bool        `json:"hoist,omitempty"`
	Color       *uint32      `json:"color,omitempty"`
	Position    *int         `json:"position,omitempty"`
}

// Overwrite targets.
const (
	OverwriteRole   = "role"
	OverwriteMember = "member"
)

// OverwriteInfo is one channel permission rule: allow/deny bit pairs for a
// target role or member.
type OverwriteInfo struct {
	TargetID snowflake.ID `json:"target_id"`
	Type     string       `json:"type"`
	Allow    uint64       `json:"allow"`
	Deny     uint64       `json:"deny"`
}

// Channel kinds as they appear on records.
const (
	ChannelText    = "text"
	ChannelVoice   = "voice"
	ChannelPrivate = "private"
)

// ChannelInfo describes a channel. ServerID zero marks a private channel;
// a nil Overwrites slice leaves existing rules unchanged.
type ChannelInfo struct {
	ID          snowflake.ID    `json:"id"`
	ServerID    snowflake.ID    `json:"server_id,omitempty"`
	Kind        *string         `json:"kind,omitempty"`
	Name        *string         `json:"name,omitempty"`
	Topic       *string         `json:"topic,omitempty"`
	Position    *int            `json:"position,omitempty"`
	RecipientID *snowflake.ID   `json:"recipient_id,omitempty"`
	Overwrites  []OverwriteInfo `json:"overwrites,omitempty"`
}

// ServerInfo describes a server. The slice fields are only populated on the
// initial full sync; incremental updates address contained entities through
// their own records. AFKChannelID honors an explicit null.
type ServerInfo struct {
	ID           snowflake.ID        `json:"id"`
	Name         *string             `json:"name,omitempty"`
	OwnerID      *snowflake.ID       `json:"owner_id,omitempty"`
	Region       *string             `json:"region,omitempty"`
	Icon         *string             `json:"icon,omitempty"`
	AFKChannelID Field[snowflake.ID] `json:"afk_channel_id,omitzero"`
	AFKTimeout   *int                `json:"afk_timeout,omitempty"`

	Roles       []RoleInfo        `json:"roles,omitempty"`
	Channels    []ChannelInfo     `json:"channels,omitempty"`
	Members     []MemberInfo      `json:"members,omitempty"`
	Presences   []PresenceInfo    `json:"presences,omitempty"`
	VoiceStates []VoiceMemberInfo `json:"voice_states,omitempty"`
}

// Removal addresses an entity for teardown. ServerID narrows the scope for
// entities owned by a server and is zero for top-level removals.
type Removal struct {
	ServerID snowflake.ID `json:"server_id,omitempty"`
	ID       snowflake.ID `json:"id"`
}
