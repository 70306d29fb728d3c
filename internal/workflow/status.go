package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"formation-backend/internal/shared/telemetry"
)

// Dossier statuses accepted by approval-driven transitions.
const (
	DossierPending        = "PENDING"
	DossierQualification  = "QUALIFICATION"
	DossierInProgress     = "IN_PROGRESS"
	DossierAwaitingClient = "AWAITING_CLIENT"
	DossierUnderReview    = "UNDER_REVIEW"
	DossierCompleted      = "COMPLETED"
	DossierClosed         = "CLOSED"
	DossierCancelled      = "CANCELLED"
)

var allowedDossierStatuses = map[string]struct{}{
	DossierPending:        {},
	DossierQualification:  {},
	DossierInProgress:     {},
	DossierAwaitingClient: {},
	DossierUnderReview:    {},
	DossierCompleted:      {},
	DossierClosed:         {},
	DossierCancelled:      {},
}

// IsAllowedDossierStatus reports whether status belongs to the fixed status set.
func IsAllowedDossierStatus(status string) bool {
	_, ok := allowedDossierStatuses[status]
	return ok
}

// ApplyApprovalStatus moves the dossier to the status configured on the
// approved step, if any. It returns the new status or "" when nothing changed.
func (s *Service) ApplyApprovalStatus(ctx context.Context, dossierID, productID, stepID string) (string, error) {
	var applied string
	err := s.Repo.InTx(ctx, func(tx Repo) error {
		var err error
		applied, err = s.applyApprovalStatus(ctx, tx, dossierID, productID, stepID, eventActor{Type: ActorSystem})
		return err
	})
	return applied, err
}

func (s *Service) applyApprovalStatus(ctx context.Context, repo Repo, dossierID, productID, stepID string, by eventActor) (string, error) {
	ps, err := repo.GetProductStep(ctx, productID, stepID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load product step: %w", err)
	}
	target := strings.TrimSpace(ps.DossierStatusOnApproval)
	if target == "" {
		return "", nil
	}
	if !IsAllowedDossierStatus(target) {
		telemetry.Warn("workflow.status.invalid_target", map[string]any{
			"dossier_id": dossierID,
			"product_id": productID,
			"step_id":    stepID,
			"status":     target,
		})
		return "", nil
	}

	dossier, err := repo.LockDossier(ctx, dossierID)
	if err != nil {
		return "", fmt.Errorf("load dossier: %w", err)
	}
	if dossier.Status == target {
		return "", nil
	}

	now := s.now()
	if err := repo.UpdateDossierStatus(ctx, dossierID, target, now); err != nil {
		return "", fmt.Errorf("update dossier status: %w", err)
	}
	if err := repo.AppendEvent(ctx, s.newEvent(EntityDossier, dossierID, EventDossierStatusChanged, by, Payload{
		"dossier_id": dossierID,
		"from":       dossier.Status,
		"to":         target,
		"step_id":    stepID,
	})); err != nil {
		return "", fmt.Errorf("append status event: %w", err)
	}
	return target, nil
}
