package model

// AgentLimits captures the static actuation limits declared at registration.
// They never change for the lifetime of a handle.
type AgentLimits struct {
	MaxAccel    float64 // m/s², thrust commands are scaled against this
	MaxTurnRate float64 // rad/s
	MaxSpeed    float64 // m/s, velocity magnitude ceiling
}

// AgentState is a read-only snapshot of one agent at decision time. The
// physics integrator owns the live state; the optimizer only ever sees
// copies supplied with each update request.
type AgentState struct {
	ID string

	Position   Vec2
	Velocity   Vec2
	Heading    float64 // rad, wrapped to [-π, π]
	AngularVel float64 // rad/s

	Limits AgentLimits
}

// TargetTrack is the target position/velocity sample supplied with an
// update request. The optimizer extrapolates it at constant velocity.
type TargetTrack struct {
	Position Vec2
	Velocity Vec2
	Valid    bool
}

// PredictPosition extrapolates the track by dt seconds assuming the target
// holds its last known velocity.
func (t TargetTrack) PredictPosition(dt float64) Vec2 {
	return Vec2{
		X: t.Position.X + t.Velocity.X*dt,
		Y: t.Position.Y + t.Velocity.Y*dt,
	}
}
