package state

import "errors"

// Query argument errors. An unknown-but-plausible target is not an error;
// lookups yield nil results until the entity synchronizes.
var (
	ErrNilChannel = errors.New("state: nil channel")
	ErrNilRole    = errors.New("state: nil role")
	ErrNilEvent   = errors.New("state: nil event")
)
