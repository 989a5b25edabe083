// Package snowflake defines the 64-bit entity identifiers used across the
// state graph. Every addressable entity (user, role, channel, server) carries
// one, unique within its entity type.
package snowflake

import (
	"errors"
	"strconv"
	"time"
)

// Epoch is the millisecond timestamp ids count from (2015-01-01T00:00:00Z).
const Epoch int64 = 1420070400000

// Zero is the absent id. It never addresses a real entity; user composite
// keys use it as the server component of a private (non-server) identity.
const Zero ID = 0

var ErrInvalidID = errors.New("snowflake: invalid id")

// ID is a 64-bit-range entity identifier.
type ID int64

// Parse converts a base-10 string to an ID.
func Parse(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, ErrInvalidID
	}
	return ID(n), nil
}

// IsZero reports whether the id is absent.
func (id ID) IsZero() bool {
	return id == 0
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Time extracts the creation timestamp embedded in the id's upper 42 bits.
// Zero ids have no timestamp and yield the zero time.
func (id ID) Time() time.Time {
	if id == 0 {
		return time.Time{}
	}
	ms := int64(id)>>22 + Epoch
	return time.UnixMilli(ms).UTC()
}
