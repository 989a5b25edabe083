// Package permission defines the server-scope and channel-scope capability
// bitmasks and the masks applicable to each channel kind.
//
// Values are plain integers: replacing a stored value is the only form of
// mutation, which keeps every change observable by whoever holds the old
// value. Resolution lives in the state package; this package is pure bit
// algebra with no I/O.
package permission

// Bit is a position inside a permission bitmask. Positions are part of the
// wire contract and must never be renumbered.
type Bit uint8

const (
	CreateInstantInvite Bit = 0
	KickMembers         Bit = 1
	BanMembers          Bit = 2
	// ManageRolesOrPermissions doubles as the administrative bit: a role
	// granting it escalates the holder to the full applicable mask.
	ManageRolesOrPermissions Bit = 3
	ManageChannels           Bit = 4
	ManageServer             Bit = 5

	ReadMessages       Bit = 10
	SendMessages       Bit = 11
	SendTTSMessages    Bit = 12
	ManageMessages     Bit = 13
	EmbedLinks         Bit = 14
	AttachFiles        Bit = 15
	ReadMessageHistory Bit = 16
	MentionEveryone    Bit = 17

	Connect            Bit = 20
	Speak              Bit = 21
	MuteMembers        Bit = 22
	DeafenMembers      Bit = 23
	MoveMembers        Bit = 24
	UseVoiceActivation Bit = 25
)

// Mask returns the single-bit mask for b.
func Mask(bits ...Bit) uint64 {
	var m uint64
	for _, b := range bits {
		m |= 1 << b
	}
	return m
}

// Has reports whether bit b is set in raw.
func Has(raw uint64, b Bit) bool {
	return raw>>b&1 == 1
}

const (
	maskGeneral = 1<<CreateInstantInvite | 1<<ManageRolesOrPermissions | 1<<ManageChannels

	maskServerOnly = 1<<KickMembers | 1<<BanMembers | 1<<ManageServer

	maskText = 1<<ReadMessages | 1<<SendMessages | 1<<SendTTSMessages |
		1<<ManageMessages | 1<<EmbedLinks | 1<<AttachFiles |
		1<<ReadMessageHistory | 1<<MentionEveryone

	maskVoice = 1<<Connect | 1<<Speak | 1<<MuteMembers |
		1<<DeafenMembers | 1<<MoveMembers | 1<<UseVoiceActivation
)

// Server is a user's baseline capability set across an entire server, before
// channel overwrites.
type Server uint64

// Channel is a user's effective capability set within one channel, after
// overwrites and kind masking.
type Channel uint64

// Read-only defaults. AllServer is the owner/administrator mask; the *All
// channel masks are the caps applied per channel kind.
const (
	NoneServer Server = 0
	AllServer  Server = maskGeneral | maskServerOnly | maskText | maskVoice

	NoneChannel Channel = 0
	AllText     Channel = maskGeneral | maskText
	// AllVoice keeps ReadMessages: the bit doubles as channel visibility,
	// which governs voice channels too.
	AllVoice Channel = maskGeneral | 1<<ReadMessages | maskVoice
	// AllPrivate covers direct-message channels: text bits only, no
	// management or invite bits.
	AllPrivate Channel = maskText
)

// ServerWith builds a server mask from named bits. Intended for role
// definitions and tests; resolution always works on raw values.
func ServerWith(bits ...Bit) Server {
	return Server(Mask(bits...))
}

// ChannelWith builds a channel mask from named bits.
func ChannelWith(bits ...Bit) Channel {
	return Channel(Mask(bits...))
}

// Raw returns the underlying bitmask.
func (p Server) Raw() uint64 { return uint64(p) }

// Has reports whether bit b is set.
func (p Server) Has(b Bit) bool { return Has(uint64(p), b) }

func (p Server) CreateInstantInvite() bool { return p.Has(CreateInstantInvite) }
func (p Server) KickMembers() bool         { return p.Has(KickMembers) }
func (p Server) BanMembers() bool          { return p.Has(BanMembers) }
func (p Server) ManageRoles() bool         { return p.Has(ManageRolesOrPermissions) }
func (p Server) ManageChannels() bool      { return p.Has(ManageChannels) }
func (p Server) ManageServer() bool        { return p.Has(ManageServer) }
func (p Server) ReadMessages() bool        { return p.Has(ReadMessages) }
func (p Server) SendMessages() bool        { return p.Has(SendMessages) }
func (p Server) SendTTSMessages() bool     { return p.Has(SendTTSMessages) }
func (p Server) ManageMessages() bool      { return p.Has(ManageMessages) }
func (p Server) EmbedLinks() bool          { return p.Has(EmbedLinks) }
func (p Server) AttachFiles() bool         { return p.Has(AttachFiles) }
func (p Server) ReadMessageHistory() bool  { return p.Has(ReadMessageHistory) }
func (p Server) MentionEveryone() bool     { return p.Has(MentionEveryone) }
func (p Server) Connect() bool             { return p.Has(Connect) }
func (p Server) Speak() bool               { return p.Has(Speak) }
func (p Server) MuteMembers() bool         { return p.Has(MuteMembers) }
func (p Server) DeafenMembers() bool       { return p.Has(DeafenMembers) }
func (p Server) MoveMembers() bool         { return p.Has(MoveMembers) }
func (p Server) UseVoiceActivation() bool  { return p.Has(UseVoiceActivation) }

// Raw returns the underlying bitmask.
func (p Channel) Raw() uint64 { return uint64(p) }

// Has reports whether bit b is set.
func (p Channel) Has(b Bit) bool { return Has(uint64(p), b) }

func (p Channel) CreateInstantInvite() bool { return p.Has(CreateInstantInvite) }

// ManagePermissions is the channel-scope reading of the role-management bit.
func (p Channel) ManagePermissions() bool  { return p.Has(ManageRolesOrPermissions) }
func (p Channel) ManageChannel() bool      { return p.Has(ManageChannels) }
func (p Channel) ReadMessages() bool       { return p.Has(ReadMessages) }
func (p Channel) SendMessages() bool       { return p.Has(SendMessages) }
func (p Channel) SendTTSMessages() bool    { return p.Has(SendTTSMessages) }
func (p Channel) ManageMessages() bool     { return p.Has(ManageMessages) }
func (p Channel) EmbedLinks() bool         { return p.Has(EmbedLinks) }
func (p Channel) AttachFiles() bool        { return p.Has(AttachFiles) }
func (p Channel) ReadMessageHistory() bool { return p.Has(ReadMessageHistory) }
func (p Channel) MentionEveryone() bool    { return p.Has(MentionEveryone) }
func (p Channel) Connect() bool            { return p.Has(Connect) }
func (p Channel) Speak() bool              { return p.Has(Speak) }
func (p Channel) MuteMembers() bool        { return p.Has(MuteMembers) }
func (p Channel) DeafenMembers() bool      { return p.Has(DeafenMembers) }
func (p Channel) MoveMembers() bool        { return p.Has(MoveMembers) }
func (p Channel) UseVoiceActivation() bool { return p.Has(UseVoiceActivation) }
