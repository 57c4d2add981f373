package guidance

import (
	"math"
	"time"

	"github.com/accelangel/space-bastard-sub000/internal/batch"
	"github.com/accelangel/space-bastard-sub000/model"
)

// Arbiter applies commitment hysteresis to batch results. It trades strict
// per-cycle optimality for control stability: a new template must both
// outlast the dwell window and beat the committed cost by a relative margin
// before it takes over.
type Arbiter struct {
	minDwell  time.Duration
	threshold float64
}

// NewArbiter constructs an arbiter with the given hysteresis tuning.
func NewArbiter(minDwell time.Duration, threshold float64) *Arbiter {
	return &Arbiter{minDwell: minDwell, threshold: threshold}
}

// Decision is the arbiter's output for one agent.
type Decision struct {
	Command model.ControlCommand
	Record  model.CommitmentRecord

	// Retained is the trajectory to keep as next cycle's recycling seed.
	Retained *model.Trajectory

	Switched bool
	Stale    bool
}

// Resolve decides whether to adopt the batch's best candidate or hold the
// current commitment.
func (a *Arbiter) Resolve(now time.Time, prev model.CommitmentRecord, prevTraj *model.Trajectory, res batch.Result) Decision {
	if res.Best == nil {
		return a.resolveAllNonFinite(prev, prevTraj, res)
	}
	best := res.Best

	// First commitment is unconditional.
	if !prev.Committed {
		return a.accept(now, res.AgentID, best)
	}

	// The committed law re-evaluated against the current state. This is the
	// control to re-emit on a rejected switch: fresh step, old template.
	committed := res.CandidateByIndex(prev.TemplateIndex)
	if committed == nil || !isFinite(committed.Cost) {
		// The committed choice itself went non-finite; take the best
		// candidate regardless of hysteresis.
		return a.accept(now, res.AgentID, best)
	}

	if best.TemplateIndex == prev.TemplateIndex {
		record := prev
		record.Cost = best.Cost
		return Decision{
			Command:  command(res.AgentID, best, record, false),
			Record:   record,
			Retained: best.Trajectory,
		}
	}

	cont := res.CandidateByIndex(model.ContinuationIndex)

	if now.Sub(prev.SwitchedAt) < a.minDwell {
		return a.hold(res.AgentID, prev, committed, cont)
	}

	improvement := relativeImprovement(committed.Cost, best.Cost)
	if improvement <= a.threshold {
		return a.hold(res.AgentID, prev, committed, cont)
	}

	return a.accept(now, res.AgentID, best)
}

// resolveAllNonFinite retains the previous commitment when every candidate
// scored NaN or ±Inf, flagging the command stale instead of emitting an
// undefined one. The continuation's first control, when present, keeps the
// old plan moving; otherwise the agent is told to coast.
func (a *Arbiter) resolveAllNonFinite(prev model.CommitmentRecord, prevTraj *model.Trajectory, res batch.Result) Decision {
	var ctrl model.ControlInput
	retained := prevTraj
	if cont := res.CandidateByIndex(model.ContinuationIndex); cont != nil {
		ctrl = cont.FirstControl
		retained = cont.Trajectory
	}
	return Decision{
		Command: model.ControlCommand{
			AgentID:       res.AgentID,
			Thrust:        ctrl.Thrust,
			TurnRate:      ctrl.TurnRate,
			TemplateIndex: prev.TemplateIndex,
			Cost:          prev.Cost,
			Stale:         true,
		},
		Record:   prev,
		Retained: retained,
		Stale:    true,
	}
}

func (a *Arbiter) accept(now time.Time, agentID string, best *batch.Candidate) Decision {
	record := model.CommitmentRecord{
		TemplateIndex: best.TemplateIndex,
		Cost:          best.Cost,
		SwitchedAt:    now,
		Committed:     true,
	}
	return Decision{
		Command:  command(agentID, best, record, false),
		Record:   record,
		Retained: best.Trajectory,
		Switched: true,
	}
}

// hold keeps the current commitment. The held cost is bounded by the
// recycled continuation: against a non-maneuvering target the continuation
// rescoring tracks the cost the commitment was made at, so re-deriving the
// committed law from the current state is never allowed to ratchet the
// stored cost upward past it.
func (a *Arbiter) hold(agentID string, prev model.CommitmentRecord, committed, cont *batch.Candidate) Decision {
	chosen := committed
	if cont != nil && isFinite(cont.Cost) && cont.Cost < chosen.Cost {
		chosen = cont
	}
	record := prev
	record.Cost = chosen.Cost
	return Decision{
		Command:  command(agentID, chosen, record, false),
		Record:   record,
		Retained: chosen.Trajectory,
	}
}

func command(agentID string, c *batch.Candidate, record model.CommitmentRecord, stale bool) model.ControlCommand {
	return model.ControlCommand{
		AgentID:       agentID,
		Thrust:        c.FirstControl.Thrust,
		TurnRate:      c.FirstControl.TurnRate,
		TemplateIndex: record.TemplateIndex,
		Cost:          record.Cost,
		Stale:         stale,
	}
}

// relativeImprovement returns (committed - candidate) / committed, guarding
// against non-positive committed costs where the ratio loses meaning.
func relativeImprovement(committedCost, candidateCost float64) float64 {
	if committedCost <= 0 {
		if candidateCost < committedCost {
			return math.Inf(1)
		}
		return 0
	}
	return (committedCost - candidateCost) / committedCost
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
