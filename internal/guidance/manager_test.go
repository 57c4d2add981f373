package guidance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/accelangel/space-bastard-sub000/core"
	"github.com/accelangel/space-bastard-sub000/internal/batch"
	"github.com/accelangel/space-bastard-sub000/internal/config"
	"github.com/accelangel/space-bastard-sub000/model"
)

var mgrEpoch = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func testLimits() model.AgentLimits {
	return model.AgentLimits{MaxAccel: 40, MaxTurnRate: 3, MaxSpeed: 80}
}

func testTarget() model.TargetTrack {
	return model.TargetTrack{Velocity: model.Vec2{X: 5}, Valid: true}
}

func newTestManager(t *testing.T, sched config.Scheduling) (*Manager, *Registry) {
	t.Helper()

	sampler := core.NewTrajectorySampler(core.DefaultSamplerConfig(), core.NewCostEvaluator(core.CostWeights{
		Distance:  1,
		Control:   0.05,
		Alignment: 0.5,
		Type:      2,
	}))
	evaluator, err := batch.NewEvaluator(sampler, sched.Workers, nil)
	if err != nil {
		t.Fatal(err)
	}

	registry := NewRegistry()
	m := NewManager(
		registry,
		core.DefaultBank(),
		evaluator,
		NewArbiter(400*time.Millisecond, 0.15),
		NewRecycler(3.0, 1.0),
		sched,
		nil,
		nil,
	)
	return m, registry
}

func defaultSched() config.Scheduling {
	return config.Scheduling{
		UpdateInterval:      100 * time.Millisecond,
		MaxBatchSize:        64,
		Workers:             4,
		ProximityBoostRange: 150,
		SpawnBoostWindow:    2 * time.Second,
		ManeuverBoostDelta:  20,
	}
}

func registerAgent(t *testing.T, r *Registry, id string, got *model.ControlCommand) Handle {
	t.Helper()
	h, err := r.Register(id, testLimits(), func(cmd model.ControlCommand) { *got = cmd }, mgrEpoch)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func agentState(id string, pos model.Vec2) model.AgentState {
	return model.AgentState{ID: id, Position: pos, Limits: testLimits()}
}

func TestRequestUpdateRejectsInvalidTarget(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)

	err := m.RequestUpdate(h, 1, agentState("a", model.Vec2{X: -400}), model.TargetTrack{}, model.MissionParameters{})
	if !errors.Is(err, ErrTargetInvalid) {
		t.Fatalf("err = %v, want ErrTargetInvalid", err)
	}
	if m.PendingCount() != 0 {
		t.Fatalf("invalid request still queued: pending = %d", m.PendingCount())
	}
}

func TestRequestUpdateRejectsStaleHandle(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)
	if err := r.Unregister(h); err != nil {
		t.Fatal(err)
	}

	err := m.RequestUpdate(h, 1, agentState("a", model.Vec2{X: -400}), testTarget(), model.MissionParameters{})
	if !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("err = %v, want ErrStaleHandle", err)
	}
}

func TestRequestUpdateMergesDuplicates(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)
	state := agentState("a", model.Vec2{X: -400})

	for i := 0; i < 5; i++ {
		if err := m.RequestUpdate(h, float64(i), state, testTarget(), model.MissionParameters{}); err != nil {
			t.Fatal(err)
		}
	}
	if m.PendingCount() != 1 {
		t.Fatalf("pending = %d, want duplicates merged to 1", m.PendingCount())
	}
}

func TestRequestUpdateMergeKeepsMaxPriority(t *testing.T) {
	sched := defaultSched()
	sched.MaxBatchSize = 1
	sched.ProximityBoostRange = 0
	m, r := newTestManager(t, sched)

	var cmdX, cmdY model.ControlCommand
	hX := registerAgent(t, r, "x", &cmdX)
	hY := registerAgent(t, r, "y", &cmdY)

	// x asks twice: low first, then high. The merge keeps the max, so x
	// outranks y's single mid-priority request.
	for _, pri := range []float64{1, 100} {
		if err := m.RequestUpdate(hX, pri, agentState("x", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.RequestUpdate(hY, 50, agentState("y", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}

	m.Advance(context.Background(), mgrEpoch)
	if cmdX.AgentID != "x" || cmdY.AgentID != "" {
		t.Fatalf("x=%q y=%q, want the merged max-priority request dispatched", cmdX.AgentID, cmdY.AgentID)
	}
}

func TestAdvanceEmptyQueueIsNoop(t *testing.T) {
	m, _ := newTestManager(t, defaultSched())

	report := m.Advance(context.Background(), mgrEpoch)
	if !report.Noop {
		t.Fatalf("report = %+v, want noop", report)
	}
	if got := m.Diagnostics().NoopCycles; got != 1 {
		t.Fatalf("noop cycles = %d, want 1", got)
	}
	if got := m.Diagnostics().Batches; got != 0 {
		t.Fatalf("batches = %d, want 0 for an empty queue", got)
	}
}

func TestAdvanceThrottlesUnderCadence(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)
	state := agentState("a", model.Vec2{X: -400})

	if err := m.RequestUpdate(h, 1, state, testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}
	if report := m.Advance(context.Background(), mgrEpoch); report.Dispatched != 1 {
		t.Fatalf("first advance dispatched %d, want 1", report.Dispatched)
	}

	// 10 ms later: under the 100 ms cadence, nothing runs even with work queued.
	if err := m.RequestUpdate(h, 1, state, testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}
	report := m.Advance(context.Background(), mgrEpoch.Add(10*time.Millisecond))
	if !report.Throttled {
		t.Fatalf("report = %+v, want throttled", report)
	}

	// Once the interval accumulates, the queued request goes out.
	report = m.Advance(context.Background(), mgrEpoch.Add(110*time.Millisecond))
	if report.Dispatched != 1 {
		t.Fatalf("post-cadence advance dispatched %d, want 1", report.Dispatched)
	}
}

func TestAdvanceDeliversCommandAndCommits(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)

	if err := m.RequestUpdate(h, 1, agentState("a", model.Vec2{X: -400}), testTarget(), model.MissionParameters{Type: model.MissionDirectIntercept}); err != nil {
		t.Fatal(err)
	}
	report := m.Advance(context.Background(), mgrEpoch)

	if report.Dispatched != 1 || report.BatchID == "" {
		t.Fatalf("report = %+v", report)
	}
	if cmd.AgentID != "a" {
		t.Fatalf("command = %+v, want delivery for agent a", cmd)
	}
	if cmd.Stale {
		t.Fatalf("fresh evaluation delivered stale command: %+v", cmd)
	}

	rec, err := r.Commitment(h)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Committed {
		t.Fatalf("commitment = %+v, want committed after first cycle", rec)
	}
	if rec.TemplateIndex != cmd.TemplateIndex {
		t.Fatalf("command template %d disagrees with commitment %d", cmd.TemplateIndex, rec.TemplateIndex)
	}
}

func TestAdvanceDiscardsResultForUnregisteredAgent(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmdA, cmdB model.ControlCommand
	hA := registerAgent(t, r, "a", &cmdA)
	hB := registerAgent(t, r, "b", &cmdB)

	for _, req := range []struct {
		h  Handle
		id string
		x  float64
	}{{hA, "a", -400}, {hB, "b", -300}} {
		if err := m.RequestUpdate(req.h, 1, agentState(req.id, model.Vec2{X: req.x}), testTarget(), model.MissionParameters{}); err != nil {
			t.Fatal(err)
		}
	}

	// Agent a vanishes after its request was queued but before the cycle.
	if err := r.Unregister(hA); err != nil {
		t.Fatal(err)
	}

	m.Advance(context.Background(), mgrEpoch)

	if cmdA.AgentID != "" {
		t.Fatalf("dead agent received command %+v", cmdA)
	}
	if cmdB.AgentID != "b" {
		t.Fatalf("surviving agent missed its command: %+v", cmdB)
	}
	if got := m.Diagnostics().DroppedStale; got != 1 {
		t.Fatalf("dropped stale = %d, want 1", got)
	}
}

// Against a target that never maneuvers, the delivered commitment cost can
// only go down across cycles: the recycled plan keeps last cycle's score
// reachable, so re-evaluation never ratchets the commitment upward.
func TestAdvanceCommittedCostNonIncreasingAgainstSteadyTarget(t *testing.T) {
	m, r := newTestManager(t, defaultSched())

	limits := model.AgentLimits{MaxAccel: 10, MaxTurnRate: 3, MaxSpeed: 30}
	var cmd model.ControlCommand
	h, err := r.Register("a", limits, func(c model.ControlCommand) { cmd = c }, mgrEpoch)
	if err != nil {
		t.Fatal(err)
	}

	state := model.AgentState{
		ID:       "a",
		Position: model.Vec2{X: -500},
		Velocity: model.Vec2{X: 25},
		Limits:   limits,
	}
	track := testTarget()

	var costs []float64
	for i := 0; i < 8; i++ {
		now := mgrEpoch.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := m.RequestUpdate(h, 1, state, track, model.MissionParameters{Type: model.MissionDirectIntercept}); err != nil {
			t.Fatal(err)
		}
		if report := m.Advance(context.Background(), now); report.Dispatched != 1 {
			t.Fatalf("cycle %d report = %+v", i, report)
		}
		if cmd.Stale {
			t.Fatalf("cycle %d delivered a stale command", i)
		}
		costs = append(costs, cmd.Cost)

		// The agent flies the delivered command until the next cycle; the
		// target holds its constant velocity.
		state = core.Propagate(state, model.ControlInput{Thrust: cmd.Thrust, TurnRate: cmd.TurnRate}, 0.1)
		track.Position = track.Position.Add(track.Velocity.Scale(0.1))
	}

	for i := 1; i < len(costs); i++ {
		if costs[i] > costs[i-1]+1e-9 {
			t.Fatalf("committed cost rose from %g to %g at cycle %d: %v", costs[i-1], costs[i], i, costs)
		}
	}
}

func TestAdvanceCapsBatchAndDefersRest(t *testing.T) {
	sched := defaultSched()
	sched.MaxBatchSize = 2
	m, r := newTestManager(t, sched)

	cmds := make([]model.ControlCommand, 5)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		h := registerAgent(t, r, id, &cmds[i])
		if err := m.RequestUpdate(h, 1, agentState(id, model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
			t.Fatal(err)
		}
	}

	report := m.Advance(context.Background(), mgrEpoch)
	if report.Dispatched != 2 || report.Deferred != 3 {
		t.Fatalf("report = %+v, want 2 dispatched / 3 deferred", report)
	}
	if m.PendingCount() != 3 {
		t.Fatalf("pending = %d, want 3 carried over", m.PendingCount())
	}

	// Equal priorities tie-break on agent id, so a and b went first.
	if cmds[0].AgentID != "a" || cmds[1].AgentID != "b" {
		t.Fatalf("dispatched %q and %q, want a and b", cmds[0].AgentID, cmds[1].AgentID)
	}

	// The carried-over requests drain on the next cycles without resubmission.
	report = m.Advance(context.Background(), mgrEpoch.Add(100*time.Millisecond))
	if report.Dispatched != 2 || report.Deferred != 1 {
		t.Fatalf("second cycle report = %+v", report)
	}
}

func TestAdvanceOrdersByPriority(t *testing.T) {
	sched := defaultSched()
	sched.MaxBatchSize = 1
	sched.ProximityBoostRange = 0 // base priority only
	m, r := newTestManager(t, sched)

	var cmdLow, cmdHigh model.ControlCommand
	hLow := registerAgent(t, r, "low", &cmdLow)
	hHigh := registerAgent(t, r, "high", &cmdHigh)

	if err := m.RequestUpdate(hLow, 1, agentState("low", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RequestUpdate(hHigh, 50, agentState("high", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}

	m.Advance(context.Background(), mgrEpoch)
	if cmdHigh.AgentID != "high" || cmdLow.AgentID != "" {
		t.Fatalf("high=%q low=%q, want only the high-priority agent dispatched", cmdHigh.AgentID, cmdLow.AgentID)
	}
}

func TestAdvanceProximityBoostOverridesBasePriority(t *testing.T) {
	sched := defaultSched()
	sched.MaxBatchSize = 1
	sched.SpawnBoostWindow = 0 // isolate the proximity term
	m, r := newTestManager(t, sched)

	var cmdNear, cmdFar model.ControlCommand
	hNear := registerAgent(t, r, "near", &cmdNear)
	hFar := registerAgent(t, r, "far", &cmdFar)

	// The distant agent asks with a much higher base priority, but the
	// near one sits 20 m from the target and gets the emergency boost.
	if err := m.RequestUpdate(hNear, 1, agentState("near", model.Vec2{X: -20}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}
	if err := m.RequestUpdate(hFar, 60, agentState("far", model.Vec2{X: -900}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}

	m.Advance(context.Background(), mgrEpoch)
	if cmdNear.AgentID != "near" || cmdFar.AgentID != "" {
		t.Fatalf("near=%q far=%q, want the proximity-boosted agent first", cmdNear.AgentID, cmdFar.AgentID)
	}
}

func TestManagerDegradedWithoutEvaluator(t *testing.T) {
	registry := NewRegistry()
	m := NewManager(registry, core.DefaultBank(), nil,
		NewArbiter(400*time.Millisecond, 0.15), NewRecycler(3.0, 1.0),
		defaultSched(), nil, nil)

	if m.Available() {
		t.Fatal("manager reports available without a backend")
	}

	var cmd model.ControlCommand
	h := registerAgent(t, registry, "a", &cmd)
	if err := m.RequestUpdate(h, 1, agentState("a", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}

	report := m.Advance(context.Background(), mgrEpoch)
	if !report.Degraded {
		t.Fatalf("report = %+v, want degraded", report)
	}
	if !m.Diagnostics().Degraded {
		t.Fatal("diagnostics do not flag degraded mode")
	}
	if cmd.AgentID != "" {
		t.Fatalf("degraded manager delivered %+v", cmd)
	}
}

func TestManagerStatsAccumulate(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)
	state := agentState("a", model.Vec2{X: -400})

	for i := 0; i < 3; i++ {
		if err := m.RequestUpdate(h, 1, state, testTarget(), model.MissionParameters{}); err != nil {
			t.Fatal(err)
		}
		m.Advance(context.Background(), mgrEpoch.Add(time.Duration(i)*100*time.Millisecond))
	}

	stats := m.Diagnostics()
	if stats.Batches != 3 || stats.AgentsProcessed != 3 {
		t.Fatalf("stats = %+v, want 3 batches / 3 agents", stats)
	}
	if stats.LargestBatch != 1 {
		t.Fatalf("largest batch = %d, want 1", stats.LargestBatch)
	}
	var commits uint64
	for _, n := range stats.TemplateUsage {
		commits += n
	}
	if commits != 3 {
		t.Fatalf("template usage total = %d, want 3", commits)
	}

	// Diagnostics returns a copy; mutating it must not touch the manager.
	stats.TemplateUsage[99] = 1
	if _, ok := m.Diagnostics().TemplateUsage[99]; ok {
		t.Fatal("Diagnostics leaked the internal usage map")
	}
}

func TestManagerPhaseReturnsToIdle(t *testing.T) {
	m, r := newTestManager(t, defaultSched())
	var cmd model.ControlCommand
	h := registerAgent(t, r, "a", &cmd)

	if err := m.RequestUpdate(h, 1, agentState("a", model.Vec2{X: -400}), testTarget(), model.MissionParameters{}); err != nil {
		t.Fatal(err)
	}
	if got := m.CurrentPhase(); got != PhaseCollecting {
		t.Fatalf("phase with queued work = %v, want collecting", got)
	}

	m.Advance(context.Background(), mgrEpoch)

	if got := m.CurrentPhase(); got != PhaseIdle {
		t.Fatalf("phase after cycle = %v, want idle", got)
	}
}
