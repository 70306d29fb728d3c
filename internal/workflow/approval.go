package workflow

import (
	"context"
	"fmt"
)

// ApproveResult describes an explicit approval.
type ApproveResult struct {
	StepInstanceID string
	DossierStatus  string
}

// ApproveStep records an admin approval of a completed step and applies the
// step's dossier status transition.
func (s *Service) ApproveStep(ctx context.Context, stepInstanceID string, actor Actor) (ApproveResult, error) {
	if !actor.IsAdmin() {
		return ApproveResult{}, ErrAdminOnly
	}
	agent, err := s.resolveAgent(ctx, s.Repo, actor)
	if err != nil {
		return ApproveResult{}, err
	}
	inst, err := s.Repo.GetStepInstance(ctx, stepInstanceID)
	if err != nil {
		return ApproveResult{}, err
	}
	if inst.CompletedAt == nil {
		return ApproveResult{}, ErrStepNotCompleted
	}
	if inst.ValidationStatus != nil {
		return ApproveResult{}, ErrAlreadyApproved
	}

	res := ApproveResult{StepInstanceID: inst.ID}
	err = s.Repo.InTx(ctx, func(tx Repo) error {
		if err := tx.ApproveStepInstance(ctx, inst.ID, agent.ID, s.now()); err != nil {
			return err
		}
		dossier, err := tx.LockDossier(ctx, inst.DossierID)
		if err != nil {
			return fmt.Errorf("load dossier: %w", err)
		}
		if err := tx.AppendEvent(ctx, s.newEvent(EntityStepInstance, inst.ID, EventStepApproved, agent.eventActor(), Payload{
			"dossier_id": dossier.ID,
			"step_id":    inst.StepID,
		})); err != nil {
			return fmt.Errorf("append step approved event: %w", err)
		}
		res.DossierStatus, err = s.applyApprovalStatus(ctx, tx, dossier.ID, dossier.ProductID, inst.StepID, agent.eventActor())
		return err
	})
	if err != nil {
		return ApproveResult{}, err
	}
	return res, nil
}

// AssignStep sets the agent responsible for a step instance.
func (s *Service) AssignStep(ctx context.Context, stepInstanceID, agentID string, actor Actor) (StepInstance, error) {
	if !actor.IsAdmin() {
		return StepInstance{}, ErrAdminOnly
	}
	agent, err := s.Repo.GetAgent(ctx, agentID)
	if err != nil {
		return StepInstance{}, err
	}
	if !agent.Active {
		return StepInstance{}, fmt.Errorf("%w: agent %s is inactive", ErrFailedPrecondition, agent.ID)
	}

	var out StepInstance
	err = s.Repo.InTx(ctx, func(tx Repo) error {
		inst, err := tx.GetStepInstance(ctx, stepInstanceID)
		if err != nil {
			return err
		}
		if inst.CompletedAt != nil {
			return ErrAlreadyCompleted
		}
		if err := tx.AssignStepInstance(ctx, inst.ID, agent.ID); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, s.newEvent(EntityStepInstance, inst.ID, EventStepAssigned, eventActor{Type: ActorAdmin, ID: actor.UserID}, Payload{
			"dossier_id": inst.DossierID,
			"agent_id":   agent.ID,
			"agent_type": string(agent.AgentType),
			"agent_name": agent.Name,
		})); err != nil {
			return fmt.Errorf("append step assigned event: %w", err)
		}
		out, err = tx.GetStepInstance(ctx, inst.ID)
		return err
	})
	return out, err
}
