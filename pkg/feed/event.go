package feed

// Event wraps every record kind the state graph consumes.
// Only one of these fields should be set.
type Event struct {
	ServerCreate *ServerInfo `json:"server_create,omitempty"`
	ServerUpdate *ServerInfo `json:"server_update,omitempty"`
	ServerDelete *Removal    `json:"server_delete,omitempty"`

	ChannelCreate *ChannelInfo `json:"channel_create,omitempty"`
	ChannelUpdate *ChannelInfo `json:"channel_update,omitempty"`
	ChannelDelete *Removal     `json:"channel_delete,omitempty"`

	RoleCreate *RoleInfo `json:"role_create,omitempty"`
	RoleUpdate *RoleInfo `json:"role_update,omitempty"`
	RoleDelete *Removal  `json:"role_delete,omitempty"`

	MemberAdd    *MemberInfo         `json:"member_add,omitempty"`
	MemberUpdate *ExtendedMemberInfo `json:"member_update,omitempty"`
	MemberRemove *Removal            `json:"member_remove,omitempty"`

	PresenceUpdate   *PresenceInfo    `json:"presence_update,omitempty"`
	VoiceStateUpdate *VoiceMemberInfo `json:"voice_state_update,omitempty"`
	UserUpdate       *UserReference   `json:"user_update,omitempty"`
}

// Kind names the populated slot, for logs and metrics. Empty events yield "".
func (e *Event) Kind() string {
	switch {
	case e.ServerCreate != nil:
		return "server_create"
	case e.ServerUpdate != nil:
		return "server_update"
	case e.ServerDelete != nil:
		return "server_delete"
	case e.ChannelCreate != nil:
		return "channel_create"
	case e.ChannelUpdate != nil:
		return "channel_update"
	case e.ChannelDelete != nil:
		return "channel_delete"
	case e.RoleCreate != nil:
		return "role_create"
	case e.RoleUpdate != nil:
		return "role_update"
	case e.RoleDelete != nil:
		return "role_delete"
	case e.MemberAdd != nil:
		return "member_add"
	case e.MemberUpdate != nil:
		return "member_update"
	case e.MemberRemove != nil:
		return "member_remove"
	case e.PresenceUpdate != nil:
		return "presence_update"
	case e.VoiceStateUpdate != nil:
		return "voice_state_update"
	case e.UserUpdate != nil:
		return "user_update"
	}
	return ""
}
