package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"formation-backend/internal/shared/telemetry"
)

// Advance resolves the step after justCompletedStepID in the dossier's product,
// reusing or creating its instance, and repoints the dossier's current step
// unless the dossier already points further along. It returns "" when the
// completed step was the last one.
func (s *Service) Advance(ctx context.Context, dossierID, justCompletedStepID string) (string, error) {
	var nextID string
	err := s.Repo.InTx(ctx, func(tx Repo) error {
		dossier, err := tx.LockDossier(ctx, dossierID)
		if err != nil {
			return err
		}
		next, _, err := s.advance(ctx, tx, dossier, justCompletedStepID)
		if err != nil {
			return err
		}
		if next != nil {
			nextID = next.ID
		}
		return nil
	})
	return nextID, err
}

func (s *Service) advance(ctx context.Context, repo Repo, dossier Dossier, justCompletedStepID string) (*StepInstance, Step, error) {
	seq, err := s.sequence(ctx, repo, dossier.ProductID)
	if err != nil {
		return nil, Step{}, err
	}
	nextPS, ok, err := seq.Next(justCompletedStepID)
	if err != nil || !ok {
		return nil, Step{}, err
	}

	nextStep, err := repo.GetStep(ctx, nextPS.StepID)
	if err != nil {
		return nil, Step{}, fmt.Errorf("load next step: %w", err)
	}

	now := s.now()
	inst, err := repo.EnsureStepInstance(ctx, StepInstance{
		ID:        uuid.NewString(),
		DossierID: dossier.ID,
		StepID:    nextPS.StepID,
		CreatedAt: now,
	})
	if err != nil {
		return nil, Step{}, fmt.Errorf("ensure next step instance: %w", err)
	}
	ahead, err := currentIsAhead(ctx, repo, seq, dossier, nextPS.Position)
	if err != nil {
		return nil, Step{}, err
	}
	if ahead {
		telemetry.Info("workflow.advance.pointer_kept", map[string]any{
			"dossier_id":            dossier.ID,
			"current_step_instance": *dossier.CurrentStepInstanceID,
			"next_step_instance_id": inst.ID,
		})
		return &inst, nextStep, nil
	}
	if err := repo.SetCurrentStepInstance(ctx, dossier.ID, inst.ID, now); err != nil {
		return nil, Step{}, fmt.Errorf("set current step instance: %w", err)
	}
	return &inst, nextStep, nil
}

// currentIsAhead reports whether the dossier's current step sits after
// position. Callers hold the dossier row, so the answer is stable until commit.
func currentIsAhead(ctx context.Context, repo Repo, seq StepSequence, dossier Dossier, position int) (bool, error) {
	if dossier.CurrentStepInstanceID == nil {
		return false, nil
	}
	cur, err := repo.GetStepInstance(ctx, *dossier.CurrentStepInstanceID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load current step instance: %w", err)
	}
	ps, ok := seq.Lookup(cur.StepID)
	return ok && ps.Position > position, nil
}
