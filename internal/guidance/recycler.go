package guidance

import (
	"github.com/accelangel/space-bastard-sub000/core"
	"github.com/accelangel/space-bastard-sub000/model"
)

// Recycler turns each agent's previously committed trajectory into the
// always-present continuation candidate for the next batch. Offering the
// shifted old plan alongside fresh templates guarantees recomputation is
// never strictly worse than simply continuing.
type Recycler struct {
	minHorizon float64
	step       float64
}

// NewRecycler constructs a recycler. minHorizon is the floor a shifted
// trajectory is extended to; step is the extrapolation step used when the
// remaining horizon falls short.
func NewRecycler(minHorizon, step float64) *Recycler {
	return &Recycler{minHorizon: minHorizon, step: step}
}

// Continuation shifts the previous plan forward by elapsed seconds. Nil in,
// nil out: an agent with no prior commitment contributes no continuation
// candidate.
func (r *Recycler) Continuation(prev *model.Trajectory, elapsed float64) *model.Trajectory {
	if prev == nil {
		return nil
	}
	return core.ShiftTrajectory(prev, elapsed, r.minHorizon, r.step)
}
