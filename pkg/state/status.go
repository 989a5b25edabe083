package state

// Status is a user's presence status as carried on the wire.
type Status string

const (
	StatusOnline       Status = "online"
	StatusIdle         Status = "idle"
	StatusDoNotDisturb Status = "dnd"
	StatusInvisible    Status = "invisible"
	StatusOffline      Status = "offline"
)

// ParseStatus converts a wire string to a Status. Unrecognized values map to
// StatusOffline.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusDoNotDisturb, StatusInvisible, StatusOffline:
		return Status(s)
	default:
		return StatusOffline
	}
}

// Valid reports whether the status is a recognised wire value.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDoNotDisturb, StatusInvisible, StatusOffline:
		return true
	default:
		return false
	}
}

// Online reports whether the status counts as present for last-seen purposes.
// Invisible users are connected even though others render them offline.
func (s Status) Online() bool {
	return s != StatusOffline && s != ""
}
