// Package guidance owns the per-agent decision state of the optimizer: the
// agent registry, the trajectory recycler, the commitment arbiter, and the
// scheduling manager that ties them to the batch evaluator.
package guidance

import (
	"errors"
	"sync"
	"time"

	"github.com/accelangel/space-bastard-sub000/model"
)

var (
	// ErrAgentExists indicates an agent id is already registered.
	ErrAgentExists = errors.New("agent already registered")
	// ErrAgentNotFound indicates no live registration for the agent id.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrStaleHandle indicates a handle from a previous registration epoch.
	ErrStaleHandle = errors.New("stale agent handle")
)

// Handle is a generation-checked reference to a registered agent. The epoch
// distinguishes re-registrations of the same id, so results computed for a
// freed handle are never delivered to its successor.
type Handle struct {
	AgentID string
	Epoch   uint64
}

// Consumer receives the per-cycle control command for one agent. Consumers
// are invoked on the control goroutine after the batch barrier, under the
// registry lock; they must not block and must not call back into the
// registry.
type Consumer func(model.ControlCommand)

// agentEntry is the registry's per-agent record. Commitment state is only
// mutated on the control goroutine, after the batch barrier, under the
// registry lock.
type agentEntry struct {
	handle       Handle
	limits       model.AgentLimits
	consumer     Consumer
	registeredAt time.Time

	commitment model.CommitmentRecord
	committed  *model.Trajectory
	resolvedAt time.Time

	lastTargetVel    model.Vec2
	hasTargetHistory bool
}

// Registry is the explicit, caller-owned store of agent handles and
// commitment records. There is no ambient global; everything that needs it
// receives it by injection.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*agentEntry
	nextEpoch uint64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*agentEntry)}
}

// Register adds an agent and returns its generation-checked handle.
func (r *Registry) Register(agentID string, limits model.AgentLimits, consumer Consumer, now time.Time) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agentID]; exists {
		return Handle{}, ErrAgentExists
	}

	r.nextEpoch++
	h := Handle{AgentID: agentID, Epoch: r.nextEpoch}
	r.agents[agentID] = &agentEntry{
		handle:       h,
		limits:       limits,
		consumer:     consumer,
		registeredAt: now,
	}
	return h, nil
}

// Unregister removes the agent behind the handle. In-flight batch work for
// the agent still completes; its result is discarded by the epoch check
// before delivery.
func (r *Registry) Unregister(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[h.AgentID]
	if !ok {
		return ErrAgentNotFound
	}
	if entry.handle.Epoch != h.Epoch {
		return ErrStaleHandle
	}
	delete(r.agents, h.AgentID)
	return nil
}

// Valid reports whether the handle refers to a live registration.
func (r *Registry) Valid(h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[h.AgentID]
	return ok && entry.handle.Epoch == h.Epoch
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// lookup returns the live entry for a handle, enforcing the epoch check.
func (r *Registry) lookup(h Handle) (*agentEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[h.AgentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if entry.handle.Epoch != h.Epoch {
		return nil, ErrStaleHandle
	}
	return entry, nil
}

// Commitment returns a copy of the agent's commitment record.
func (r *Registry) Commitment(h Handle) (model.CommitmentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[h.AgentID]
	if !ok {
		return model.CommitmentRecord{}, ErrAgentNotFound
	}
	if entry.handle.Epoch != h.Epoch {
		return model.CommitmentRecord{}, ErrStaleHandle
	}
	return entry.commitment, nil
}

// committedPlan returns the agent's retained trajectory and the time since
// it was last resolved. A nil trajectory means no continuation candidate.
func (r *Registry) committedPlan(h Handle, now time.Time) (*model.Trajectory, time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[h.AgentID]
	if !ok || entry.handle.Epoch != h.Epoch || entry.committed == nil {
		return nil, 0
	}
	return entry.committed, now.Sub(entry.resolvedAt)
}

// commitmentState returns the record plus retained trajectory for the
// arbiter.
func (r *Registry) commitmentState(h Handle) (model.CommitmentRecord, *model.Trajectory) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[h.AgentID]
	if !ok || entry.handle.Epoch != h.Epoch {
		return model.CommitmentRecord{}, nil
	}
	return entry.commitment, entry.committed
}

// resolve commits the arbiter's outcome and, for a live handle, delivers the
// command to the agent's consumer. The epoch check and the delivery happen
// in one critical section, so an Unregister that wins the lock first can
// never be followed by a delivery to the freed handle. Returns false when
// the handle died mid-flight and the decision was discarded.
func (r *Registry) resolve(h Handle, d Decision, now time.Time, req *pendingRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[h.AgentID]
	if !ok || entry.handle.Epoch != h.Epoch {
		return false
	}
	entry.commitment = d.Record
	entry.committed = d.Retained
	entry.resolvedAt = now
	if req != nil {
		entry.lastTargetVel = req.target.Velocity
		entry.hasTargetHistory = true
	}
	if entry.consumer != nil {
		entry.consumer(d.Command)
	}
	return true
}
