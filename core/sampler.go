package core

import (
	"math"

	"github.com/accelangel/space-bastard-sub000/model"
)

// SamplerConfig controls the two-resolution time grid used for rollouts.
type SamplerConfig struct {
	FineStep    float64 // s, near-term resolution
	CoarseStep  float64 // s, far-term resolution
	FineHorizon float64 // s, span simulated at fine resolution
	MaxHorizon  float64 // s, total simulated span
	MinHorizon  float64 // s, floor a recycled trajectory is extended to
}

// DefaultSamplerConfig mirrors the tuning the optimizer ships with: 0.1 s
// steps for the first two seconds, 1 s steps out to twelve.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		FineStep:    0.1,
		CoarseStep:  1.0,
		FineHorizon: 2.0,
		MaxHorizon:  12.0,
		MinHorizon:  3.0,
	}
}

// TrajectorySampler forward-simulates one (agent, template) pair over the
// full horizon and scores the result.
type TrajectorySampler struct {
	cfg  SamplerConfig
	cost *CostEvaluator
}

// NewTrajectorySampler constructs a sampler sharing the given evaluator.
func NewTrajectorySampler(cfg SamplerConfig, cost *CostEvaluator) *TrajectorySampler {
	return &TrajectorySampler{cfg: cfg, cost: cost}
}

// Config returns the sampler's grid configuration.
func (s *TrajectorySampler) Config() SamplerConfig {
	return s.cfg
}

// Sample rolls the agent forward under the template's control law and
// returns the completed trajectory, the first-step control (the command to
// apply this cycle), and the trajectory's cost.
func (s *TrajectorySampler) Sample(agent model.AgentState, target model.TargetTrack, mission model.MissionParameters, tmpl model.ControlTemplate) (*model.Trajectory, model.ControlInput, float64) {
	traj := &model.Trajectory{}

	state := agent
	t := 0.0
	var ctrl model.ControlInput
	for t < s.cfg.MaxHorizon {
		dt := s.cfg.CoarseStep
		if t < s.cfg.FineHorizon {
			dt = s.cfg.FineStep
		}

		ctrl = s.controlAt(state, target, mission, tmpl, t)
		traj.States = append(traj.States, state)
		traj.Controls = append(traj.Controls, ctrl)
		traj.Timestamps = append(traj.Timestamps, t)

		state = Propagate(state, ctrl, dt)
		t += dt
	}

	// Terminal sample so the cost evaluator sees the end of the horizon.
	traj.States = append(traj.States, state)
	traj.Controls = append(traj.Controls, ctrl)
	traj.Timestamps = append(traj.Timestamps, t)

	traj.Cost = s.cost.Evaluate(traj, target, mission, tmpl)

	first := traj.Controls[0]
	return traj, first, traj.Cost
}

// Rescore re-evaluates an existing trajectory (typically a recycled one)
// against fresh target and mission data. The continuation candidate uses a
// neutral template so only the trajectory itself is judged.
func (s *TrajectorySampler) Rescore(traj *model.Trajectory, target model.TargetTrack, mission model.MissionParameters) float64 {
	neutral := model.ControlTemplate{AlignmentWeight: 1.0}
	traj.Cost = s.cost.Evaluate(traj, target, mission, neutral)
	return traj.Cost
}

// controlAt derives the step's control from the mission-type heading rule
// and the template gains.
func (s *TrajectorySampler) controlAt(state model.AgentState, target model.TargetTrack, mission model.MissionParameters, tmpl model.ControlTemplate, t float64) model.ControlInput {
	desired := s.desiredHeading(state, target, mission, t)

	// The template's heading offset biases the opening of the trajectory
	// and fades out over the fine horizon.
	if fade := 1 - t/math.Max(s.cfg.FineHorizon, 1e-9); fade > 0 {
		desired = model.WrapAngle(desired + tmpl.HeadingOffset*fade)
	}

	headingErr := model.WrapAngle(desired - state.Heading)

	turnRate := tmpl.TurnGain * headingErr
	if max := state.Limits.MaxTurnRate; max > 0 {
		turnRate = clamp(turnRate, -max, max)
	}

	thrust := tmpl.ThrustFactor * state.Limits.MaxAccel
	// Pointing away from the desired course, thrust only adds energy in
	// the wrong direction; scale it down with the heading error.
	if scale := math.Cos(headingErr); scale > 0 {
		thrust *= scale
	} else {
		thrust = 0
	}

	if mission.Type == model.MissionSimultaneousImpact {
		thrust *= s.pacingFactor(state, target, mission, t)
	}

	return model.ControlInput{Thrust: thrust, TurnRate: turnRate}
}

// desiredHeading computes the mission-type heading rule at rollout time t.
func (s *TrajectorySampler) desiredHeading(state model.AgentState, target model.TargetTrack, mission model.MissionParameters, t float64) float64 {
	switch mission.Type {
	case model.MissionArcOffset:
		return s.arcOffsetHeading(state, target, mission, t)
	case model.MissionSimultaneousImpact:
		return s.convergeHeading(state, target, mission, t)
	default:
		return s.interceptHeading(state, target, t)
	}
}

// interceptHeading tracks the predicted intercept point: the target is
// extrapolated by the estimated time-to-go at the agent's current closing
// speed.
func (s *TrajectorySampler) interceptHeading(state model.AgentState, target model.TargetTrack, t float64) float64 {
	targetNow := target.PredictPosition(t)
	dist := state.Position.DistanceTo(targetNow)

	speed := state.Velocity.Norm()
	if speed < 1 {
		speed = math.Max(state.Limits.MaxSpeed/2, 1)
	}
	tgo := dist / speed

	aim := target.PredictPosition(t + tgo)
	return aim.Sub(state.Position).Angle()
}

// arcOffsetHeading interpolates from a sideways bias toward direct pursuit
// as the approach closes. Phase is the fraction of the horizon consumed;
// the bias is strongest at the start of the rollout and unwinds through
// the mid-phase so the terminal geometry arrives from the assigned side.
func (s *TrajectorySampler) arcOffsetHeading(state model.AgentState, target model.TargetTrack, mission model.MissionParameters, t float64) float64 {
	direct := s.interceptHeading(state, target, t)
	side := arcApproachHeading(target, mission.Side)

	phase := clamp(t/math.Max(s.cfg.MaxHorizon, 1e-9), 0, 1)
	var bias float64
	switch {
	case phase < 0.4:
		bias = 1.0
	case phase < 0.8:
		bias = (0.8 - phase) / 0.4
	default:
		bias = 0
	}

	return blendHeadings(direct, side, bias*0.6)
}

// convergeHeading implements the fan-out-then-converge blend. An agent on
// pace steers straight for the predicted impact point; an agent carrying
// more path than time flies a detour through a standoff waypoint on its
// assigned approach axis. A collinear out-and-back through a standoff s
// covers 2s - dist, so the standoff is sized at (speed·remaining + dist)/2
// to absorb exactly the surplus path length.
func (s *TrajectorySampler) convergeHeading(state model.AgentState, target model.TargetTrack, mission model.MissionParameters, t float64) float64 {
	impactTime := math.Max(mission.ImpactTime, 1e-3)
	remaining := math.Max(impactTime-t, 0)

	impactPos := target.PredictPosition(impactTime)
	dist := state.Position.DistanceTo(impactPos)
	speed := state.Velocity.Norm()

	if speed*remaining <= dist {
		// On pace or behind: no detour to fly.
		return s.interceptHeading(state, target, t)
	}

	standoff := (speed*remaining + dist) / 2
	approach := model.UnitFromAngle(mission.ImpactAngle)
	waypoint := impactPos.Sub(approach.Scale(standoff))

	toWaypoint := waypoint.Sub(state.Position).Angle()
	direct := s.interceptHeading(state, target, t)

	phase := clamp(t/impactTime, 0, 1)
	// Fan out for the first 60% of the window, converge afterwards.
	fanWeight := clamp((0.6-phase)/0.6, 0, 1)
	return blendHeadings(direct, toWaypoint, fanWeight)
}

// pacingFactor matches the agent's speed to the pace its assigned arrival
// requires. Thrust cannot be reversed and there is no drag, so built-up
// speed never sheds; the factor therefore refuses further acceleration the
// moment the agent is at pace, and overspeed is absorbed geometrically by
// convergeHeading's detour instead.
func (s *TrajectorySampler) pacingFactor(state model.AgentState, target model.TargetTrack, mission model.MissionParameters, t float64) float64 {
	remaining := mission.ImpactTime - t
	if remaining <= 0 {
		return 1
	}

	dist := state.Position.DistanceTo(target.PredictPosition(mission.ImpactTime))
	desired := dist / remaining
	speed := state.Velocity.Norm()
	if speed >= desired {
		return 0
	}

	accel := state.Limits.MaxAccel
	if accel <= 0 {
		return 1
	}
	// Close the speed gap at a rate that settles within one coarse step.
	return clamp((desired-speed)/accel, 0, 1)
}

// blendHeadings interpolates angularly from a toward b by w ∈ [0, 1],
// taking the short way around.
func blendHeadings(a, b, w float64) float64 {
	return model.WrapAngle(a + model.WrapAngle(b-a)*w)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
