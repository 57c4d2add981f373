package guidance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/accelangel/space-bastard-sub000/core"
	"github.com/accelangel/space-bastard-sub000/internal/batch"
	"github.com/accelangel/space-bastard-sub000/internal/config"
	"github.com/accelangel/space-bastard-sub000/internal/logging"
	"github.com/accelangel/space-bastard-sub000/internal/observability"
	"github.com/accelangel/space-bastard-sub000/model"
)

// ErrTargetInvalid indicates the request carried no usable target track.
// The request is dropped for the cycle; the actuator layer is expected to
// coast until reassignment.
var ErrTargetInvalid = errors.New("target track invalid")

// Phase names the manager's position in its per-cycle state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseDispatching
	PhaseResolving
)

// Priority boosts recomputed fresh each cycle; they implement the emergency
// override for agents that cannot afford to wait out a full queue rotation.
const (
	proximityBoost = 100.0
	spawnBoost     = 50.0
	maneuverBoost  = 75.0
)

// pendingRequest accumulates one agent's update request between cycles.
// Duplicate requests merge by max priority and refresh the snapshots.
type pendingRequest struct {
	handle   Handle
	priority float64
	agent    model.AgentState
	target   model.TargetTrack
	mission  model.MissionParameters
}

// Stats is the read-only diagnostics surface.
type Stats struct {
	Batches          uint64
	AgentsProcessed  uint64
	LargestBatch     int
	LastCycleLatency time.Duration
	NoopCycles       uint64
	DroppedStale     uint64
	StaleCommands    uint64
	TemplateUsage    map[int]uint64
	Degraded         bool
}

// CycleReport summarises one Advance call.
type CycleReport struct {
	BatchID    string
	Dispatched int
	Deferred   int
	Throttled  bool
	Noop       bool
	Degraded   bool
	Latency    time.Duration
}

// Manager orchestrates the per-cycle pipeline: request intake, cadence
// throttling, priority ordering, batch capping, dispatch, arbitration, and
// delivery. Advance must be driven from a single control goroutine;
// RequestUpdate and registration may come from anywhere.
type Manager struct {
	registry  *Registry
	bank      *core.TemplateBank
	evaluator *batch.Evaluator
	arbiter   *Arbiter
	recycler  *Recycler
	sched     config.Scheduling

	log     logging.Logger
	metrics *observability.OptimizerCollector
	tracer  trace.Tracer

	mu          sync.Mutex
	pending     map[string]*pendingRequest
	accumulated time.Duration
	lastAdvance time.Time
	phase       Phase
	stats       Stats
}

// NewManager wires the scheduling manager. A nil evaluator is tolerated and
// reported as degraded: callers are expected to run their direct per-agent
// path until a backend is available. A nil metrics collector disables
// metric export without disabling the manager.
func NewManager(registry *Registry, bank *core.TemplateBank, evaluator *batch.Evaluator, arbiter *Arbiter, recycler *Recycler, sched config.Scheduling, log logging.Logger, metrics *observability.OptimizerCollector) *Manager {
	if log == nil {
		log = logging.Noop()
	}
	m := &Manager{
		registry:  registry,
		bank:      bank,
		evaluator: evaluator,
		arbiter:   arbiter,
		recycler:  recycler,
		sched:     sched,
		log:       log,
		metrics:   metrics,
		tracer:    otel.Tracer("github.com/accelangel/space-bastard-sub000/internal/guidance"),
		pending:   make(map[string]*pendingRequest),
		phase:     PhaseIdle,
	}
	m.stats.TemplateUsage = make(map[int]uint64)
	m.stats.Degraded = evaluator == nil
	m.metrics.SetDegraded(evaluator == nil)
	return m
}

// Available reports whether the batch backend can be dispatched to.
func (m *Manager) Available() bool {
	return m.evaluator != nil
}

// RequestUpdate enqueues an agent for the next cycle. Idempotent per cycle:
// a duplicate request merges by max priority and takes the newer snapshots.
func (m *Manager) RequestUpdate(h Handle, priority float64, agent model.AgentState, target model.TargetTrack, mission model.MissionParameters) error {
	if !m.registry.Valid(h) {
		return ErrStaleHandle
	}
	if !target.Valid {
		m.log.Debug(context.Background(), "dropping request with invalid target",
			logging.String("agent_id", h.AgentID),
		)
		return ErrTargetInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pending[h.AgentID]; ok && existing.handle == h {
		if priority > existing.priority {
			existing.priority = priority
		}
		existing.agent = agent
		existing.target = target
		existing.mission = mission
		return nil
	}
	m.pending[h.AgentID] = &pendingRequest{
		handle:   h,
		priority: priority,
		agent:    agent,
		target:   target,
		mission:  mission,
	}
	if m.phase == PhaseIdle {
		m.phase = PhaseCollecting
	}
	m.metrics.SetPendingRequests(len(m.pending))
	return nil
}

// Advance drives the cycle state machine. The manager only dispatches when
// the accumulated time since the last dispatch reaches the update interval,
// decoupling cadence from request arrival rate.
func (m *Manager) Advance(ctx context.Context, now time.Time) CycleReport {
	m.mu.Lock()

	if !m.lastAdvance.IsZero() {
		m.accumulated += now.Sub(m.lastAdvance)
	} else {
		// First call primes the cadence so a fresh manager dispatches
		// immediately instead of idling a full interval.
		m.accumulated = m.sched.UpdateInterval
	}
	m.lastAdvance = now

	if m.accumulated < m.sched.UpdateInterval {
		m.mu.Unlock()
		return CycleReport{Throttled: true}
	}
	m.accumulated -= m.sched.UpdateInterval
	if m.accumulated > m.sched.UpdateInterval {
		m.accumulated = m.sched.UpdateInterval
	}

	if len(m.pending) == 0 {
		m.stats.NoopCycles++
		m.phase = PhaseIdle
		m.mu.Unlock()
		return CycleReport{Noop: true}
	}

	if m.evaluator == nil {
		m.stats.Degraded = true
		m.mu.Unlock()
		m.metrics.SetDegraded(true)
		m.log.Warn(ctx, "batch backend unavailable; callers must use the direct evaluation path")
		return CycleReport{Degraded: true}
	}

	m.phase = PhaseDispatching
	selected, deferred := m.drainLocked(now)
	m.metrics.SetPendingRequests(deferred)
	m.mu.Unlock()

	report := m.dispatch(ctx, now, selected)
	report.Deferred = deferred

	m.mu.Lock()
	if len(m.pending) > 0 {
		m.phase = PhaseCollecting
	} else {
		m.phase = PhaseIdle
	}
	m.mu.Unlock()
	return report
}

// drainLocked recomputes priorities, orders the queue, and carves off up to
// max_batch_size requests. Leftovers stay pending for the next cycle, where
// their priority is recomputed fresh rather than aging in place.
func (m *Manager) drainLocked(now time.Time) ([]*pendingRequest, int) {
	queue := make([]*pendingRequest, 0, len(m.pending))
	for _, req := range m.pending {
		queue = append(queue, req)
	}

	effective := make(map[string]float64, len(queue))
	for _, req := range queue {
		effective[req.handle.AgentID] = req.priority + m.emergencyBoost(req, now)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		pi, pj := effective[queue[i].handle.AgentID], effective[queue[j].handle.AgentID]
		if pi != pj {
			return pi > pj
		}
		return queue[i].handle.AgentID < queue[j].handle.AgentID
	})

	take := len(queue)
	if take > m.sched.MaxBatchSize {
		take = m.sched.MaxBatchSize
	}
	selected := queue[:take]
	for _, req := range selected {
		delete(m.pending, req.handle.AgentID)
	}
	return selected, len(m.pending)
}

// emergencyBoost recomputes the per-cycle priority adjustments: proximity
// to the target, a recent registration, or a sharp change in the target's
// velocity each push an agent up the queue.
func (m *Manager) emergencyBoost(req *pendingRequest, now time.Time) float64 {
	var boost float64

	if rng := m.sched.ProximityBoostRange; rng > 0 {
		if dist := req.agent.Position.DistanceTo(req.target.Position); dist < rng {
			boost += proximityBoost * (1 - dist/rng)
		}
	}

	entry, err := m.registry.lookup(req.handle)
	if err != nil {
		return boost
	}

	if window := m.sched.SpawnBoostWindow; window > 0 && now.Sub(entry.registeredAt) < window {
		boost += spawnBoost
	}
	if delta := m.sched.ManeuverBoostDelta; delta > 0 && entry.hasTargetHistory {
		if req.target.Velocity.Sub(entry.lastTargetVel).Norm() > delta {
			boost += maneuverBoost
		}
	}
	return boost
}

// dispatch runs the batch, arbitrates, and delivers commands. It is the
// only place commitment records are mutated, and it runs on the control
// goroutine after the evaluator's submit-and-wait barrier.
func (m *Manager) dispatch(ctx context.Context, now time.Time, selected []*pendingRequest) CycleReport {
	batchID := uuid.NewString()
	ctx, span := m.tracer.Start(ctx, "optimizer.cycle",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", len(selected)),
		),
	)
	defer span.End()

	started := time.Now()
	templates := m.bank.Snapshot()

	tasks := make([]batch.Task, 0, len(selected))
	for _, req := range selected {
		task := batch.Task{
			AgentID: req.handle.AgentID,
			Epoch:   req.handle.Epoch,
			Agent:   req.agent,
			Target:  req.target,
			Mission: req.mission,
		}
		if prev, since := m.registry.committedPlan(req.handle, now); prev != nil {
			task.Continuation = m.recycler.Continuation(prev, since.Seconds())
		}
		tasks = append(tasks, task)
	}

	results := m.evaluator.Evaluate(ctx, tasks, templates)

	m.mu.Lock()
	m.phase = PhaseResolving
	m.mu.Unlock()

	resolved := 0
	for i := range results {
		res := results[i]
		h := Handle{AgentID: res.AgentID, Epoch: res.Epoch}

		prev, prevTraj := m.registry.commitmentState(h)
		decision := m.arbiter.Resolve(now, prev, prevTraj, res)

		// The registry re-checks the registration epoch and delivers in one
		// critical section: an agent unregistered mid-flight still had its
		// slot computed (wasted work is acceptable), but nothing is
		// committed or delivered against the dead handle.
		if !m.registry.resolve(h, decision, now, m.requestFor(selected, res.AgentID)) {
			m.mu.Lock()
			m.stats.DroppedStale++
			m.mu.Unlock()
			m.log.Debug(ctx, "discarding result for unregistered agent",
				logging.String("agent_id", res.AgentID),
			)
			continue
		}

		m.recordDecision(decision)
		resolved++
	}

	latency := time.Since(started)

	m.mu.Lock()
	m.stats.Batches++
	m.stats.AgentsProcessed += uint64(resolved)
	if len(selected) > m.stats.LargestBatch {
		m.stats.LargestBatch = len(selected)
	}
	m.stats.LastCycleLatency = latency
	largest := m.stats.LargestBatch
	m.mu.Unlock()

	m.metrics.ObserveCycle(resolved, latency)
	m.metrics.SetLargestBatch(largest)

	m.log.Debug(ctx, "cycle resolved",
		logging.String("batch_id", batchID),
		logging.Int("dispatched", len(selected)),
		logging.Int("resolved", resolved),
		logging.Duration("latency", latency),
	)

	return CycleReport{
		BatchID:    batchID,
		Dispatched: len(selected),
		Latency:    latency,
	}
}

// recordDecision folds one arbitration outcome into stats and metrics.
func (m *Manager) recordDecision(d Decision) {
	m.mu.Lock()
	if d.Stale {
		m.stats.StaleCommands++
	} else {
		m.stats.TemplateUsage[d.Record.TemplateIndex]++
	}
	m.mu.Unlock()

	if d.Stale {
		m.metrics.IncStaleCommitments()
	} else {
		m.metrics.IncTemplateCommit(d.Record.TemplateIndex)
	}
}

// requestFor finds the dispatched request backing a result, for target
// history bookkeeping.
func (m *Manager) requestFor(selected []*pendingRequest, agentID string) *pendingRequest {
	for _, req := range selected {
		if req.handle.AgentID == agentID {
			return req
		}
	}
	return nil
}

// Diagnostics returns a copy of the manager's cumulative statistics.
func (m *Manager) Diagnostics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.stats
	out.TemplateUsage = make(map[int]uint64, len(m.stats.TemplateUsage))
	for k, v := range m.stats.TemplateUsage {
		out.TemplateUsage[k] = v
	}
	return out
}

// PendingCount returns the number of queued requests.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// CurrentPhase reports the manager's cycle phase.
func (m *Manager) CurrentPhase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}
