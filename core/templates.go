package core

import (
	"math"
	"sync"

	"github.com/accelangel/space-bastard-sub000/model"
)

// TemplateBank holds the deterministically ordered set of control templates.
// The bank may be replaced wholesale by an external tuning process; within a
// cycle, callers operate on a snapshot whose indices are stable.
type TemplateBank struct {
	mu        sync.RWMutex
	templates []model.ControlTemplate
}

// NewTemplateBank constructs a bank from the given templates. The slice is
// copied; entries are immutable from then on.
func NewTemplateBank(templates []model.ControlTemplate) *TemplateBank {
	return &TemplateBank{templates: append([]model.ControlTemplate(nil), templates...)}
}

// DefaultBank returns the curated starting population: a straight-line
// chaser, throttled variants, and offset entries biased to either side.
func DefaultBank() *TemplateBank {
	return NewTemplateBank([]model.ControlTemplate{
		{ThrustFactor: 1.0, TurnGain: 3.0, HeadingOffset: 0, AlignmentWeight: 1.0},
		{ThrustFactor: 0.8, TurnGain: 4.0, HeadingOffset: 0, AlignmentWeight: 1.0},
		{ThrustFactor: 0.6, TurnGain: 5.0, HeadingOffset: 0, AlignmentWeight: 0.5},
		{ThrustFactor: 1.0, TurnGain: 3.0, HeadingOffset: math.Pi / 6, AlignmentWeight: 0.75},
		{ThrustFactor: 1.0, TurnGain: 3.0, HeadingOffset: -math.Pi / 6, AlignmentWeight: 0.75},
		{ThrustFactor: 0.9, TurnGain: 2.0, HeadingOffset: math.Pi / 3, AlignmentWeight: 0.5},
		{ThrustFactor: 0.9, TurnGain: 2.0, HeadingOffset: -math.Pi / 3, AlignmentWeight: 0.5},
		{ThrustFactor: 0.5, TurnGain: 6.0, HeadingOffset: 0, AlignmentWeight: 1.5},
	})
}

// Snapshot returns the current template set. The returned slice must be
// treated as read-only; its indices are the template identifiers for the
// cycle that took the snapshot.
func (b *TemplateBank) Snapshot() []model.ControlTemplate {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.templates
}

// Len returns the number of templates in the bank.
func (b *TemplateBank) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.templates)
}

// Replace swaps in a new population. In-flight cycles keep evaluating their
// own snapshot; the new set takes effect at the next snapshot.
func (b *TemplateBank) Replace(templates []model.ControlTemplate) {
	copied := append([]model.ControlTemplate(nil), templates...)
	b.mu.Lock()
	b.templates = copied
	b.mu.Unlock()
}
