package core

import (
	"math"
	"testing"

	"github.com/accelangel/space-bastard-sub000/model"
)

func recycleFixture() *model.Trajectory {
	traj := &model.Trajectory{}
	for i := 0; i <= 10; i++ {
		t := float64(i)
		traj.States = append(traj.States, model.AgentState{
			Position: model.Vec2{X: 10 * t},
			Velocity: model.Vec2{X: 10},
			Limits:   model.AgentLimits{MaxSpeed: 50},
		})
		traj.Controls = append(traj.Controls, model.ControlInput{Thrust: float64(i)})
		traj.Timestamps = append(traj.Timestamps, t)
	}
	return traj
}

func TestShiftTrajectoryDropsConsumedPrefix(t *testing.T) {
	orig := recycleFixture()
	shifted := ShiftTrajectory(orig, 2.5, 0, 1.0)

	if shifted.Timestamps[0] != 0 {
		t.Fatalf("rebased start = %g, want 0", shifted.Timestamps[0])
	}
	// First surviving sample was the one at t=3.
	if shifted.Controls[0].Thrust != 3 {
		t.Fatalf("first surviving control thrust = %g, want 3", shifted.Controls[0].Thrust)
	}
	if err := shifted.Validate(); err != nil {
		t.Fatalf("shifted trajectory invalid: %v", err)
	}
	if got, want := shifted.Horizon(), 7.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("shifted horizon = %g, want %g", got, want)
	}
}

func TestShiftTrajectoryDoesNotMutateInput(t *testing.T) {
	orig := recycleFixture()
	_ = ShiftTrajectory(orig, 4, 20, 1.0)

	if orig.Timestamps[0] != 0 || orig.Timestamps[10] != 10 {
		t.Fatalf("input timestamps mutated: %v", orig.Timestamps)
	}
	if orig.Len() != 11 {
		t.Fatalf("input length changed to %d", orig.Len())
	}
}

func TestShiftTrajectoryExtendsToMinHorizon(t *testing.T) {
	orig := recycleFixture()
	// Shift past t=8: only t=8..10 survive, a 2 s horizon, under the 5 s floor.
	shifted := ShiftTrajectory(orig, 8, 5, 1.0)

	if shifted.Horizon() < 5 {
		t.Fatalf("extended horizon = %g, want >= 5", shifted.Horizon())
	}
	if err := shifted.Validate(); err != nil {
		t.Fatalf("extended trajectory invalid: %v", err)
	}
	// The tail holds the last control constant.
	last := shifted.Controls[len(shifted.Controls)-1]
	if last.Thrust != 10 {
		t.Fatalf("extrapolated control thrust = %g, want held 10", last.Thrust)
	}
}

func TestShiftTrajectoryFullyConsumedRestartsFromFinalState(t *testing.T) {
	orig := recycleFixture()
	shifted := ShiftTrajectory(orig, 50, 3, 1.0)

	if shifted == nil {
		t.Fatal("fully consumed plan yielded nil, want restart from final state")
	}
	if shifted.States[0].Position != orig.States[10].Position {
		t.Fatalf("restart state %+v, want final state %+v", shifted.States[0].Position, orig.States[10].Position)
	}
	if shifted.Horizon() < 3 {
		t.Fatalf("restarted horizon = %g, want >= 3", shifted.Horizon())
	}
}

func TestShiftTrajectoryNilAndEmpty(t *testing.T) {
	if got := ShiftTrajectory(nil, 1, 3, 1.0); got != nil {
		t.Fatalf("nil input yielded %+v", got)
	}
	if got := ShiftTrajectory(&model.Trajectory{}, 1, 3, 1.0); got != nil {
		t.Fatalf("empty input yielded %+v", got)
	}
}
