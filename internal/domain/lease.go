package domain

import "time"

// Lease is one user's claim on one station. A lease is active until it is
// released; ReleasedAt is nil exactly while Active is true.
type Lease struct {
	ID         int64
	UserID     int64
	Username   string
	StationID  int64
	StationIP  string
	Active     bool
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// StateChange describes a station state transition for notification sinks.
type StateChange struct {
	StationID int64
	OldState  State
	NewState  State
	ActorID   int64
	Actor     string
	At        time.Time
}
