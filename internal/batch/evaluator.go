// Package batch runs trajectory sampling over the cross-product of
// scheduled agents and control templates on a worker pool, then reduces
// each agent's candidates to the lowest-cost choice.
package batch

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/accelangel/space-bastard-sub000/core"
	"github.com/accelangel/space-bastard-sub000/internal/logging"
	"github.com/accelangel/space-bastard-sub000/model"
)

// ErrNoWorkers indicates the evaluation backend could not be initialised.
// Callers are expected to fall back to a non-batched path.
var ErrNoWorkers = errors.New("batch evaluator requires at least one worker")

// Task is one agent's evaluation request for the cycle.
type Task struct {
	AgentID string
	Epoch   uint64

	Agent   model.AgentState
	Target  model.TargetTrack
	Mission model.MissionParameters

	// Continuation is the recycled previous plan, already shifted to start
	// at 0. Nil when the agent has no prior commitment.
	Continuation *model.Trajectory
}

// Candidate is one evaluated (agent, template) pair. The continuation
// candidate carries model.ContinuationIndex.
type Candidate struct {
	TemplateIndex int
	Cost          float64
	FirstControl  model.ControlInput
	Trajectory    *model.Trajectory
}

// Result is the per-agent reduction output. Candidates are ordered by
// template index (continuation first) regardless of evaluation order, so
// downstream consumers see a deterministic view.
type Result struct {
	AgentID string
	Epoch   uint64

	// Best is the minimum-cost finite candidate, ties broken by lowest
	// template index. Nil when every candidate scored non-finite.
	Best *Candidate

	Candidates []Candidate
}

// CandidateByIndex returns the candidate evaluated for the given template
// index, or nil when it was not part of the batch.
func (r *Result) CandidateByIndex(idx int) *Candidate {
	for i := range r.Candidates {
		if r.Candidates[i].TemplateIndex == idx {
			return &r.Candidates[i]
		}
	}
	return nil
}

// Evaluator dispatches sampling jobs to a fixed worker pool. Evaluate
// blocks until every pair in the batch has completed (the submit-and-wait
// barrier), so callers may mutate per-agent state freely afterwards.
type Evaluator struct {
	sampler *core.TrajectorySampler
	workers int
	log     logging.Logger
}

// NewEvaluator constructs the backend. A non-positive worker count is an
// initialisation failure, not a fatal error for the subsystem: the caller
// reports degraded mode and uses its direct path.
func NewEvaluator(sampler *core.TrajectorySampler, workers int, log logging.Logger) (*Evaluator, error) {
	if workers < 1 {
		return nil, ErrNoWorkers
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Evaluator{sampler: sampler, workers: workers, log: log}, nil
}

// EvaluateOne is the non-batched fallback: it samples every template for a
// single task inline on the calling goroutine.
func (e *Evaluator) EvaluateOne(task Task, templates []model.ControlTemplate) Result {
	return e.evaluateTask(task, templates)
}

type job struct {
	task int // index into tasks
	slot int // index into the task's candidate slots
	tmpl int // template index, or model.ContinuationIndex
}

// Evaluate runs the full cross-product in parallel and reduces per agent.
// The reduction (min with index tie-break) is commutative and associative,
// so the output is invariant to worker scheduling.
func (e *Evaluator) Evaluate(ctx context.Context, tasks []Task, templates []model.ControlTemplate) []Result {
	if len(tasks) == 0 {
		return nil
	}

	results := make([]Result, len(tasks))
	for i := range tasks {
		slots := len(templates)
		if tasks[i].Continuation != nil {
			slots++
		}
		results[i] = Result{
			AgentID:    tasks[i].AgentID,
			Epoch:      tasks[i].Epoch,
			Candidates: make([]Candidate, slots),
		}
	}

	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.task].Candidates[j.slot] = e.evaluatePair(tasks[j.task], templates, j.tmpl)
			}
		}()
	}

	for ti := range tasks {
		slot := 0
		if tasks[ti].Continuation != nil {
			jobs <- job{task: ti, slot: slot, tmpl: model.ContinuationIndex}
			slot++
		}
		for tmpl := range templates {
			jobs <- job{task: ti, slot: slot, tmpl: tmpl}
			slot++
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		e.log.Warn(ctx, "batch context cancelled during evaluation",
			logging.String("error", err.Error()),
		)
	}

	for i := range results {
		results[i].Best = selectBest(results[i].Candidates)
	}
	return results
}

// evaluatePair samples one (task, template) pair. The continuation slot
// rescores the recycled trajectory instead of sampling a fresh one.
func (e *Evaluator) evaluatePair(task Task, templates []model.ControlTemplate, tmpl int) Candidate {
	if tmpl == model.ContinuationIndex {
		cont := task.Continuation
		cost := e.sampler.Rescore(cont, task.Target, task.Mission)
		return Candidate{
			TemplateIndex: model.ContinuationIndex,
			Cost:          cost,
			FirstControl:  cont.Controls[0],
			Trajectory:    cont,
		}
	}

	traj, first, cost := e.sampler.Sample(task.Agent, task.Target, task.Mission, templates[tmpl])
	return Candidate{
		TemplateIndex: tmpl,
		Cost:          cost,
		FirstControl:  first,
		Trajectory:    traj,
	}
}

func (e *Evaluator) evaluateTask(task Task, templates []model.ControlTemplate) Result {
	res := Result{AgentID: task.AgentID, Epoch: task.Epoch}
	if task.Continuation != nil {
		res.Candidates = append(res.Candidates, e.evaluatePair(task, templates, model.ContinuationIndex))
	}
	for tmpl := range templates {
		res.Candidates = append(res.Candidates, e.evaluatePair(task, templates, tmpl))
	}
	res.Best = selectBest(res.Candidates)
	return res
}

// selectBest picks the minimum finite cost; an exact tie goes to the lower
// template index. Candidates arrive ordered by index, so strict less-than
// implements the tie-break.
func selectBest(candidates []Candidate) *Candidate {
	var best *Candidate
	for i := range candidates {
		c := &candidates[i]
		if math.IsNaN(c.Cost) || math.IsInf(c.Cost, 0) {
			continue
		}
		if best == nil || c.Cost < best.Cost {
			best = c
		}
	}
	return best
}
