package core

import (
	"github.com/accelangel/space-bastard-sub000/model"
)

// Propagate is the pure state-transition function used by every sampled
// trajectory: heading integrates the turn rate (wrapped to [-π, π]),
// thrust accelerates along the new heading, speed is clamped to the
// agent's ceiling, then position integrates the new velocity.
//
// Deterministic, no side effects, no failure modes.
func Propagate(s model.AgentState, c model.ControlInput, dt float64) model.AgentState {
	next := s

	next.Heading = model.WrapAngle(s.Heading + c.TurnRate*dt)
	next.AngularVel = c.TurnRate

	dir := model.UnitFromAngle(next.Heading)
	next.Velocity = s.Velocity.Add(dir.Scale(c.Thrust * dt))

	if max := s.Limits.MaxSpeed; max > 0 {
		if speed := next.Velocity.Norm(); speed > max {
			next.Velocity = next.Velocity.Scale(max / speed)
		}
	}

	next.Position = s.Position.Add(next.Velocity.Scale(dt))
	return next
}
