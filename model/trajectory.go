package model

import (
	"errors"
	"time"
)

// ErrTrajectoryInvalid indicates a trajectory violated its shape invariant.
var ErrTrajectoryInvalid = errors.New("invalid trajectory")

// ControlInput is one step's actuation command.
type ControlInput struct {
	Thrust   float64 // m/s², already scaled by the template's thrust factor
	TurnRate float64 // rad/s
}

// Trajectory is a simulated forward rollout: states, the controls that
// produced them, and strictly increasing timestamps starting at 0.
//
// Invariant: len(States) == len(Controls) == len(Timestamps).
type Trajectory struct {
	States     []AgentState
	Controls   []ControlInput
	Timestamps []float64 // s, relative to decision time

	// Cost is the aggregate scalar assigned by the cost evaluator. It may
	// be non-finite; selection layers treat non-finite as +∞.
	Cost float64
}

// Len returns the number of steps in the trajectory.
func (t *Trajectory) Len() int {
	return len(t.Timestamps)
}

// Horizon returns the final timestamp, or 0 for an empty trajectory.
func (t *Trajectory) Horizon() float64 {
	if len(t.Timestamps) == 0 {
		return 0
	}
	return t.Timestamps[len(t.Timestamps)-1]
}

// Validate checks the shape invariant and timestamp monotonicity.
func (t *Trajectory) Validate() error {
	if len(t.States) != len(t.Controls) || len(t.States) != len(t.Timestamps) {
		return ErrTrajectoryInvalid
	}
	prev := -1.0
	for _, ts := range t.Timestamps {
		if ts <= prev {
			return ErrTrajectoryInvalid
		}
		prev = ts
	}
	return nil
}

// CommitmentRecord is the only cross-cycle mutable state the optimizer owns
// per agent. It is created at registration and mutated solely by the
// commitment arbiter on the control goroutine.
type CommitmentRecord struct {
	TemplateIndex int
	Cost          float64
	SwitchedAt    time.Time
	Committed     bool
}

// ControlCommand is the per-cycle delivery contract handed to the agent's
// actuator consumer.
type ControlCommand struct {
	AgentID       string
	Thrust        float64 // m/s², bounded by the agent's max acceleration
	TurnRate      float64 // rad/s, bounded by the agent's max turn rate
	TemplateIndex int
	Cost          float64
	// Stale marks a command re-emitted from a prior commitment because
	// every fresh candidate scored non-finite this cycle.
	Stale bool
}
