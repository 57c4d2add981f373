package model

// ControlTemplate is one parameterized control law. Templates are immutable
// once placed in a bank and are identified by their bank index.
type ControlTemplate struct {
	// ThrustFactor scales the agent's max acceleration, in [0, 1].
	ThrustFactor float64
	// TurnGain maps heading error to commanded turn rate.
	TurnGain float64
	// HeadingOffset biases the desired heading at the start of the
	// trajectory, fading out over the horizon.
	HeadingOffset float64
	// AlignmentWeight scales how strongly heading/velocity misalignment
	// is penalised for trajectories sampled from this template.
	AlignmentWeight float64
}

// ContinuationIndex is the reserved sentinel index for the recycled
// continuation candidate. It sorts below every bank index so an exact cost
// tie resolves to continuing the current plan.
const ContinuationIndex = -1
