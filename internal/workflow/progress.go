package workflow

import (
	"context"
	"fmt"
	"sort"
)

// StepProgress is one step of a dossier as seen by its readers.
type StepProgress struct {
	Instance         StepInstance
	Step             Step
	Position         int
	State            StepState
	Ready            bool
	MissingDocuments []string
}

// DossierProgress is a dossier with its ordered steps.
type DossierProgress struct {
	Dossier Dossier
	Steps   []StepProgress
}

// GetDossierProgress returns the dossier and its step instances ordered by
// product position, with readiness computed per instance.
func (s *Service) GetDossierProgress(ctx context.Context, dossierID string, actor Actor) (DossierProgress, error) {
	dossier, err := s.viewableDossier(ctx, dossierID, actor)
	if err != nil {
		return DossierProgress{}, err
	}
	seq, err := s.sequence(ctx, s.Repo, dossier.ProductID)
	if err != nil {
		return DossierProgress{}, err
	}
	instances, err := s.Repo.ListStepInstances(ctx, dossier.ID)
	if err != nil {
		return DossierProgress{}, fmt.Errorf("list step instances: %w", err)
	}

	out := DossierProgress{Dossier: dossier, Steps: make([]StepProgress, 0, len(instances))}
	for _, inst := range instances {
		step, err := s.Repo.GetStep(ctx, inst.StepID)
		if err != nil {
			return DossierProgress{}, fmt.Errorf("load step: %w", err)
		}
		missing, err := s.missingDocuments(ctx, s.Repo, inst)
		if err != nil {
			return DossierProgress{}, err
		}
		position := step.Position
		if ps, ok := seq.Lookup(inst.StepID); ok {
			position = ps.Position
		}
		out.Steps = append(out.Steps, StepProgress{
			Instance:         inst,
			Step:             step,
			Position:         position,
			State:            inst.State(),
			Ready:            len(missing) == 0,
			MissingDocuments: missing,
		})
	}
	sort.SliceStable(out.Steps, func(i, j int) bool { return out.Steps[i].Position < out.Steps[j].Position })
	return out, nil
}

// ListDossierEvents returns the dossier's event timeline in append order.
func (s *Service) ListDossierEvents(ctx context.Context, dossierID string, actor Actor) ([]Event, error) {
	dossier, err := s.viewableDossier(ctx, dossierID, actor)
	if err != nil {
		return nil, err
	}
	events, err := s.Repo.ListDossierEvents(ctx, dossier.ID)
	if err != nil {
		return nil, fmt.Errorf("list dossier events: %w", err)
	}
	return events, nil
}

func (s *Service) viewableDossier(ctx context.Context, dossierID string, actor Actor) (Dossier, error) {
	dossier, err := s.Repo.GetDossier(ctx, dossierID)
	if err != nil {
		return Dossier{}, err
	}
	if !actor.CanView(dossier) {
		return Dossier{}, fmt.Errorf("%w: dossier %s", ErrForbidden, dossierID)
	}
	return dossier, nil
}
