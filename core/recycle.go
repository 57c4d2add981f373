package core

import (
	"github.com/accelangel/space-bastard-sub000/model"
)

// ShiftTrajectory advances a previously committed trajectory by the elapsed
// wall-clock delta: samples older than delta are dropped, the remaining
// timestamps are rebased to start at 0, and if the surviving horizon falls
// under minHorizon the tail is extended by holding the last control
// constant through the propagator.
//
// The input is not mutated. A nil result means nothing of the trajectory
// survived the shift and no state was left to extrapolate from.
func ShiftTrajectory(traj *model.Trajectory, delta, minHorizon, step float64) *model.Trajectory {
	if traj == nil || traj.Len() == 0 {
		return nil
	}

	// First surviving sample: the earliest timestamp >= delta.
	start := 0
	for start < traj.Len() && traj.Timestamps[start] < delta {
		start++
	}
	if start == traj.Len() {
		// The plan has been fully consumed; restart it from its final
		// state so the continuation candidate still exists.
		start = traj.Len() - 1
	}

	base := traj.Timestamps[start]
	shifted := &model.Trajectory{
		States:     append([]model.AgentState(nil), traj.States[start:]...),
		Controls:   append([]model.ControlInput(nil), traj.Controls[start:]...),
		Timestamps: make([]float64, 0, traj.Len()-start),
	}
	for _, ts := range traj.Timestamps[start:] {
		shifted.Timestamps = append(shifted.Timestamps, ts-base)
	}
	// Rebase exactness: the first entry is 0 by construction.
	shifted.Timestamps[0] = 0

	if step <= 0 {
		step = 1.0
	}
	for shifted.Horizon() < minHorizon {
		last := shifted.Len() - 1
		held := shifted.Controls[last]
		next := Propagate(shifted.States[last], held, step)
		shifted.States = append(shifted.States, next)
		shifted.Controls = append(shifted.Controls, held)
		shifted.Timestamps = append(shifted.Timestamps, shifted.Timestamps[last]+step)
	}

	return shifted
}
