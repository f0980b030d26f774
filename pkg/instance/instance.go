// Package instance defines the compute instance model for powerswitch.
package instance

import (
	"fmt"
	"time"
)

// State is the observed power state of an instance.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// Direction is a requested power transition.
type Direction string

const (
	PowerOn  Direction = "power_on"
	PowerOff Direction = "power_off"
)

// Precondition returns the state an instance must be in for d to apply.
func (d Direction) Precondition() (State, error) {
	switch d {
	case PowerOn:
		return StateStopped, nil
	case PowerOff:
		return StateRunning, nil
	default:
		return "", fmt.Errorf("unknown direction %q", string(d))
	}
}

// Record is one instance as observed in a single describe response.
// Records are never cached; build a fresh set per request.
type Record struct {
	ID               string            `json:"id"`                 // e.g. "i-0abc123"
	State            State             `json:"state"`              // state at query time
	PublicAddress    *string           `json:"public_address"`     // nil unless running with one assigned
	SecurityGroupIDs []string          `json:"security_group_ids"` // primary interface groups, in order
	Tags             map[string]string `json:"tags"`
}

// PublicAddressOrEmpty returns the public address or "".
func (r Record) PublicAddressOrEmpty() string {
	if r.PublicAddress == nil {
		return ""
	}
	return *r.PublicAddress
}

// TransitionResult holds the outcome of one power transition.
type TransitionResult struct {
	Direction       Direction
	Requested       []string
	Eligible        int
	Targets         []string
	IngressGroups   int
	IngressFailures int
	Duration        time.Duration
	Error           error
}

// Outcome classifies the result for metrics and logs.
func (r TransitionResult) Outcome() string {
	switch {
	case r.Error != nil:
		return "error"
	case len(r.Targets) == 0:
		return "noop"
	default:
		return "transitioned"
	}
}
