package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a station.
type State string

const (
	StateOff        State = "OFF"
	StateOn         State = "ON"
	StateWork       State = "WORK"
	StateRepair     State = "REPAIR"
	StateFree       State = "FREE"
	StateDisconnect State = "DISCONNECT"
)

// States lists every station state in reporting order.
var States = []State{StateOff, StateOn, StateWork, StateRepair, StateFree, StateDisconnect}

// ParseState matches s against the state names exactly. No case folding or
// trimming is applied.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "state", Msg: fmt.Sprintf("unknown state %q", s)}
}

func (s State) Valid() bool {
	_, err := ParseState(string(s))
	return err == nil
}

// Station is a leasable virtual machine slot. IP is the station's network
// address and is unique across all stations.
type Station struct {
	ID         int64
	IP         string
	Port       int
	State      State
	Login      string
	Credential string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StationFilter narrows station listings. Nil/empty fields are ignored.
type StationFilter struct {
	Login   string
	PortMin *int
	PortMax *int
}
