package model

// MissionType is the high-level attack pattern assigned by fire control.
type MissionType int

const (
	MissionUnknown MissionType = iota
	// MissionDirectIntercept steers straight at the predicted intercept point.
	MissionDirectIntercept
	// MissionArcOffset approaches along a lateral arc and arrives on an
	// assigned perpendicular side of the target's velocity vector.
	MissionArcOffset
	// MissionSimultaneousImpact coordinates several agents to arrive at an
	// assigned time from assigned approach angles.
	MissionSimultaneousImpact
)

// String returns a short label for logs and metrics.
func (m MissionType) String() string {
	switch m {
	case MissionDirectIntercept:
		return "direct_intercept"
	case MissionArcOffset:
		return "arc_offset"
	case MissionSimultaneousImpact:
		return "simultaneous_impact"
	default:
		return "unknown"
	}
}

// ArcSide selects which perpendicular side of the target the arc-offset
// approach resolves to.
type ArcSide int

const (
	ArcSideLeft  ArcSide = 1
	ArcSideRight ArcSide = -1
)

// MissionParameters carries the trajectory-type tag plus the type-specific
// fields. Fields that do not apply to the tagged type are ignored.
type MissionParameters struct {
	Type MissionType

	// Arc-offset approach.
	Side ArcSide

	// Coordinated simultaneous impact.
	ImpactAngle float64 // rad, assigned final approach heading
	ImpactTime  float64 // s from decision time, assigned arrival
}
