package core

import (
	"math"

	"github.com/accelangel/space-bastard-sub000/model"
)

// CostWeights are the tunable cost-term ratios. They are configuration,
// not contract; defaults live in the config package.
type CostWeights struct {
	Distance  float64
	Control   float64
	Alignment float64
	Type      float64
}

// CostEvaluator scores a completed trajectory against the target track and
// mission parameters. A non-finite result is reported as-is; selection
// layers treat it as +∞.
type CostEvaluator struct {
	Weights CostWeights
}

// NewCostEvaluator constructs an evaluator with the given weights.
func NewCostEvaluator(w CostWeights) *CostEvaluator {
	return &CostEvaluator{Weights: w}
}

// Evaluate computes
//
//	w_d·miss² + w_c·Σ|Δcontrol| + w_a·avg(heading-vs-velocity error) + w_t·typePenalty
//
// where miss is the terminal distance to the target extrapolated (constant
// velocity) to the trajectory's final timestamp.
func (e *CostEvaluator) Evaluate(traj *model.Trajectory, target model.TargetTrack, mission model.MissionParameters, tmpl model.ControlTemplate) float64 {
	n := traj.Len()
	if n == 0 {
		return math.Inf(1)
	}

	final := traj.States[n-1]
	horizon := traj.Timestamps[n-1]

	predicted := target.PredictPosition(horizon)
	miss := final.Position.DistanceTo(predicted)

	var effort float64
	for i := 1; i < n; i++ {
		effort += math.Abs(traj.Controls[i].Thrust - traj.Controls[i-1].Thrust)
		effort += math.Abs(traj.Controls[i].TurnRate - traj.Controls[i-1].TurnRate)
	}

	var misalign float64
	for i := 0; i < n; i++ {
		st := traj.States[i]
		if st.Velocity.Norm() < 1e-9 {
			continue
		}
		misalign += math.Abs(model.WrapAngle(st.Heading - st.Velocity.Angle()))
	}
	misalign /= float64(n)

	penalty := e.typePenalty(traj, final, target, mission)

	w := e.Weights
	alignWeight := w.Alignment * tmpl.AlignmentWeight
	return w.Distance*miss*miss + w.Control*effort + alignWeight*misalign + w.Type*penalty
}

// typePenalty computes the mission-type-specific cost term.
func (e *CostEvaluator) typePenalty(traj *model.Trajectory, final model.AgentState, target model.TargetTrack, mission model.MissionParameters) float64 {
	switch mission.Type {
	case model.MissionArcOffset:
		// Angular deviation of the final velocity heading from the
		// assigned perpendicular side of the target's course.
		assigned := arcApproachHeading(target, mission.Side)
		if final.Velocity.Norm() < 1e-9 {
			return math.Pi
		}
		return math.Abs(model.WrapAngle(final.Velocity.Angle() - assigned))

	case model.MissionSimultaneousImpact:
		predictedImpact := predictImpactTime(traj, target)
		timeErr := math.Abs(predictedImpact - mission.ImpactTime)
		var angleErr float64
		if final.Velocity.Norm() >= 1e-9 {
			angleErr = math.Abs(model.WrapAngle(final.Velocity.Angle() - mission.ImpactAngle))
		} else {
			angleErr = math.Pi
		}
		// Time agreement dominates; approach angle is a secondary shaping
		// term so near-simultaneous arrivals do not trade away geometry.
		return 4*timeErr + angleErr

	default:
		return 0
	}
}

// arcApproachHeading returns the heading perpendicular to the target's
// course on the assigned side. A near-stationary target yields a stable
// arbitrary axis so side assignments still disambiguate.
func arcApproachHeading(target model.TargetTrack, side model.ArcSide) float64 {
	course := 0.0
	if target.Velocity.Norm() >= 1e-9 {
		course = target.Velocity.Angle()
	}
	return model.WrapAngle(course + float64(side)*math.Pi/2)
}

// predictImpactTime estimates when the trajectory passes closest to the
// (constant-velocity) target. If the rollout never closes, the final
// timestamp is reported, which surfaces as a large time error.
func predictImpactTime(traj *model.Trajectory, target model.TargetTrack) float64 {
	best := math.Inf(1)
	bestT := traj.Horizon()
	for i := 0; i < traj.Len(); i++ {
		t := traj.Timestamps[i]
		d := traj.States[i].Position.DistanceTo(target.PredictPosition(t))
		if d < best {
			best = d
			bestT = t
		}
	}
	return bestT
}
