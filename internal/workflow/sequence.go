package workflow

import (
	"fmt"
	"sort"
)

// StepSequence is the ordered list of a product's steps. Positions are
// strictly increasing; construction fails on a duplicate position or step.
type StepSequence struct {
	steps []ProductStep
	index map[string]int
}

// NewStepSequence sorts rows by position and indexes them by step id.
func NewStepSequence(rows []ProductStep) (StepSequence, error) {
	steps := make([]ProductStep, len(rows))
	copy(steps, rows)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Position < steps[j].Position
	})

	index := make(map[string]int, len(steps))
	for i, ps := range steps {
		if i > 0 && steps[i-1].Position == ps.Position {
			return StepSequence{}, fmt.Errorf("%w: product %s has two steps at position %d", ErrInvalidConfiguration, ps.ProductID, ps.Position)
		}
		if _, dup := index[ps.StepID]; dup {
			return StepSequence{}, fmt.Errorf("%w: product %s lists step %s twice", ErrInvalidConfiguration, ps.ProductID, ps.StepID)
		}
		index[ps.StepID] = i
	}
	return StepSequence{steps: steps, index: index}, nil
}

// Len returns the number of steps.
func (s StepSequence) Len() int {
	return len(s.steps)
}

// Steps returns the ordered steps.
func (s StepSequence) Steps() []ProductStep {
	out := make([]ProductStep, len(s.steps))
	copy(out, s.steps)
	return out
}

// First returns the lowest-positioned step.
func (s StepSequence) First() (ProductStep, bool) {
	if len(s.steps) == 0 {
		return ProductStep{}, false
	}
	return s.steps[0], true
}

// Lookup returns the entry for stepID.
func (s StepSequence) Lookup(stepID string) (ProductStep, bool) {
	i, ok := s.index[stepID]
	if !ok {
		return ProductStep{}, false
	}
	return s.steps[i], true
}

// Next returns the step following stepID. ok is false at the end of the
// sequence. An error is returned when stepID is not part of the sequence.
func (s StepSequence) Next(stepID string) (next ProductStep, ok bool, err error) {
	i, found := s.index[stepID]
	if !found {
		return ProductStep{}, false, fmt.Errorf("%w: step %s is not configured for this product", ErrNotFound, stepID)
	}
	if i+1 >= len(s.steps) {
		return ProductStep{}, false, nil
	}
	return s.steps[i+1], true, nil
}
