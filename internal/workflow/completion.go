package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"formation-backend/internal/shared/metrics"
	"formation-backend/internal/shared/telemetry"
)

// CompleteOptions are caller-supplied completion flags.
type CompleteOptions struct {
	Manual bool
}

// CompletionResult describes the outcome of a completion.
type CompletionResult struct {
	StepInstanceID     string
	DossierID          string
	Approved           bool
	Advanced           bool
	NextStepInstanceID string
	DossierStatus      string
}

// CompleteStep marks a step instance complete on behalf of actor.
//
// Preconditions are checked in a fixed order and the first failure is
// returned: agent resolution, instance existence, assignment, agent/step type
// compatibility, not already completed, and for createur completions that all
// required documents are delivered.
func (s *Service) CompleteStep(ctx context.Context, stepInstanceID string, actor Actor, opts CompleteOptions) (res CompletionResult, err error) {
	defer func() { recordOutcome(err) }()
	return s.completeStep(ctx, s.Repo, stepInstanceID, actor, opts)
}

func (s *Service) completeStep(ctx context.Context, repo Repo, stepInstanceID string, actor Actor, opts CompleteOptions) (CompletionResult, error) {
	agent, err := s.resolveAgent(ctx, repo, actor)
	if err != nil {
		return CompletionResult{}, err
	}

	inst, err := repo.GetStepInstance(ctx, stepInstanceID)
	if err != nil {
		return CompletionResult{}, err
	}

	if !agent.Admin && !inst.IsAssignedTo(agent.ID) {
		return CompletionResult{}, ErrNotAssigned
	}

	step, err := repo.GetStep(ctx, inst.StepID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("load step: %w", err)
	}
	capability, err := agent.capabilityFor(step.StepType)
	if err != nil {
		return CompletionResult{}, err
	}
	if capability.StepType != step.StepType {
		return CompletionResult{}, ErrStepTypeMismatch
	}

	if inst.CompletedAt != nil {
		return CompletionResult{}, ErrAlreadyCompleted
	}

	if capability.RequiresReadiness {
		missing, err := s.missingDocuments(ctx, repo, inst)
		if err != nil {
			return CompletionResult{}, err
		}
		if len(missing) > 0 {
			return CompletionResult{}, fmt.Errorf("%w: missing %s", ErrDocumentsNotDelivered, strings.Join(missing, ", "))
		}
	}

	res := CompletionResult{StepInstanceID: inst.ID, DossierID: inst.DossierID}
	err = repo.InTx(ctx, func(tx Repo) error {
		now := s.now()
		completion := Completion{CompletedAt: now}
		if capability.AutoApprove {
			completion.ApprovedBy = agent.ID
		}
		if err := tx.CompleteStepInstance(ctx, inst.ID, completion); err != nil {
			return err
		}
		res.Approved = capability.AutoApprove

		dossier, err := tx.LockDossier(ctx, inst.DossierID)
		if err != nil {
			return fmt.Errorf("load dossier: %w", err)
		}
		res.DossierStatus = dossier.Status

		next, nextStep, err := s.advance(ctx, tx, dossier, inst.StepID)
		if err != nil {
			return err
		}

		payload := Payload{
			"manual":     opts.Manual,
			"agent_type": agent.payloadType(),
			"agent_name": agent.Name,
			"step_code":  step.Code,
			"step_label": step.Label,
			"dossier_id": inst.DossierID,
		}
		if next != nil {
			res.Advanced = true
			res.NextStepInstanceID = next.ID
			payload["next_step_name"] = nextStep.Label
		}
		if err := tx.AppendEvent(ctx, s.newEvent(EntityStepInstance, inst.ID, EventStepCompleted, agent.eventActor(), payload)); err != nil {
			return fmt.Errorf("append step completed event: %w", err)
		}

		if res.Approved {
			status, err := s.applyApprovalStatus(ctx, tx, dossier.ID, dossier.ProductID, inst.StepID, agent.eventActor())
			if err != nil {
				return err
			}
			if status != "" {
				res.DossierStatus = status
			}
		}
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}

	metrics.IncStepCompleted(agent.payloadType())
	telemetry.Info("workflow.step.completed", map[string]any{
		"step_instance_id":      res.StepInstanceID,
		"dossier_id":            res.DossierID,
		"agent_id":              agent.ID,
		"agent_type":            agent.payloadType(),
		"approved":              res.Approved,
		"next_step_instance_id": res.NextStepInstanceID,
	})
	return res, nil
}

// CreateAndCompleteInput identifies an ADMIN step to materialize and complete.
type CreateAndCompleteInput struct {
	DossierID string
	StepID    string
	Manual    bool
}

// CreateAndCompleteStep instantiates an ADMIN step in the dossier, assigning it
// to the acting agent when it has no assignee, then completes it. Nothing is
// persisted when the completion is rejected.
func (s *Service) CreateAndCompleteStep(ctx context.Context, in CreateAndCompleteInput, actor Actor) (res CompletionResult, err error) {
	defer func() { recordOutcome(err) }()

	if strings.TrimSpace(in.DossierID) == "" || strings.TrimSpace(in.StepID) == "" {
		return CompletionResult{}, fmt.Errorf("%w: dossier_id and step_id are required", ErrInvalidInput)
	}

	agent, err := s.resolveAgent(ctx, s.Repo, actor)
	if err != nil {
		return CompletionResult{}, err
	}
	dossier, err := s.Repo.GetDossier(ctx, in.DossierID)
	if err != nil {
		return CompletionResult{}, err
	}
	step, err := s.Repo.GetStep(ctx, in.StepID)
	if err != nil {
		return CompletionResult{}, err
	}
	if step.StepType != StepTypeAdmin {
		return CompletionResult{}, ErrStepNotAdmin
	}
	if _, err := s.Repo.GetProductStep(ctx, dossier.ProductID, step.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return CompletionResult{}, fmt.Errorf("%w: step %s is not part of product %s", ErrInvalidInput, step.ID, dossier.ProductID)
		}
		return CompletionResult{}, err
	}

	err = s.Repo.InTx(ctx, func(tx Repo) error {
		now := s.now()
		assignee := agent.ID
		inst, err := tx.EnsureStepInstance(ctx, StepInstance{
			ID:         uuid.NewString(),
			DossierID:  dossier.ID,
			StepID:     step.ID,
			AssignedTo: &assignee,
			StartedAt:  &now,
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("ensure step instance: %w", err)
		}
		if inst.CompletedAt != nil {
			return ErrAlreadyCompleted
		}
		if inst.AssignedTo == nil {
			if err := tx.AssignStepInstance(ctx, inst.ID, agent.ID); err != nil {
				return fmt.Errorf("assign step instance: %w", err)
			}
		}
		res, err = s.completeStep(ctx, tx, inst.ID, actor, CompleteOptions{Manual: in.Manual})
		return err
	})
	if err != nil {
		return CompletionResult{}, err
	}
	return res, nil
}

func recordOutcome(err error) {
	if err == nil {
		return
	}
	metrics.IncStepRejected(rejectionReason(err))
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNotAgent):
		return "not_agent"
	case errors.Is(err, ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, ErrStepTypeMismatch):
		return "step_type_mismatch"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ErrDocumentsNotDelivered):
		return "documents_not_delivered"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
