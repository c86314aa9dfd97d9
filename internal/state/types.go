package state

import "time"

// TimeMinutes is a unix timestamp with minute resolution: the number of
// whole minutes elapsed since the epoch. Zero means "absent" — every real
// observation happened well after minute 0, so the zero value doubles as
// the missing-time encoding (the in-memory equivalent of a null).
type TimeMinutes uint32

// Week is one week expressed in minutes.
const Week TimeMinutes = 7 * 24 * 60

// NowMinutes returns the current time rounded to the nearest minute.
func NowMinutes() TimeMinutes {
	secs := float64(time.Now().UnixMilli()) / 1000.0
	return TimeMinutes(secs/60.0 + 0.5)
}

// IsZero reports whether t is the "absent" sentinel.
func (t TimeMinutes) IsZero() bool { return t == 0 }

// GameID identifies one server session, as assigned by the upstream
// directory. Zero is never a valid id.
type GameID uint32

// ServerID is our own dense numbering of logical servers. It indexes
// State.ServerChainHeads; slot 0 is a sentinel, so zero means "not yet
// assigned to a chain".
type ServerID uint32

// HostID is the directory's opaque 32-byte host identifier
// (base64-decoded from the "server_id" field of the upstream JSON).
type HostID [32]byte
