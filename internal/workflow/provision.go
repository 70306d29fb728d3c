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

// Provisioning sources recorded in dossier metadata.
const (
	SourcePayment = "payment"
	SourceManual  = "manual"
)

// ProvisionRequest is the input of ProvisionDossier.
type ProvisionRequest struct {
	UserID    string
	ProductID string
	OrderID   string
	IsTest    bool
	Source    string
	// Actor is the admin creating the dossier manually; zero for system triggers.
	Actor Actor
}

// ProvisionResult is the provisioned (or already existing) dossier.
type ProvisionResult struct {
	Dossier Dossier
	Created bool
}

// ProvisionDossier creates the dossier for (user, product) with one step
// instance per configured step. An existing dossier for the pair is returned
// unchanged.
func (s *Service) ProvisionDossier(ctx context.Context, req ProvisionRequest) (ProvisionResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.UserID == "" || req.ProductID == "" {
		return ProvisionResult{}, fmt.Errorf("%w: user_id and product_id are required", ErrInvalidInput)
	}
	if req.Source == "" {
		req.Source = SourcePayment
	}

	existing, err := s.Repo.FindDossier(ctx, req.UserID, req.ProductID)
	if err == nil {
		return ProvisionResult{Dossier: existing}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return ProvisionResult{}, fmt.Errorf("find dossier: %w", err)
	}

	product, err := s.Repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return ProvisionResult{}, err
	}
	if !product.Active {
		return ProvisionResult{}, fmt.Errorf("%w: %s", ErrProductInactive, product.ID)
	}
	seq, err := s.sequence(ctx, s.Repo, product.ID)
	if err != nil {
		return ProvisionResult{}, err
	}
	first, ok := seq.First()
	if !ok {
		return ProvisionResult{}, fmt.Errorf("%w: %s", ErrProductHasNoSteps, product.ID)
	}

	by := eventActor{Type: ActorSystem}
	if req.Actor.UserID != "" {
		by = eventActor{Type: ActorAdmin, ID: req.Actor.UserID}
	}

	var result ProvisionResult
	err = s.Repo.InTx(ctx, func(tx Repo) error {
		now := s.now()
		metadata := Payload{"source": req.Source}
		if req.OrderID != "" {
			metadata["order_id"] = req.OrderID
		}
		dossier := Dossier{
			ID:        uuid.NewString(),
			UserID:    req.UserID,
			ProductID: product.ID,
			Type:      product.DossierType,
			Status:    product.InitialStatus,
			OrderID:   req.OrderID,
			Metadata:  metadata,
			IsTest:    req.IsTest,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := tx.CreateDossier(ctx, dossier)
		if err != nil {
			return fmt.Errorf("create dossier: %w", err)
		}
		if !created {
			// A concurrent provisioning won the unique (user, product) slot.
			winner, err := tx.FindDossier(ctx, req.UserID, req.ProductID)
			if err != nil {
				return fmt.Errorf("find dossier: %w", err)
			}
			result = ProvisionResult{Dossier: winner}
			return nil
		}

		instances := make([]StepInstance, 0, seq.Len())
		var firstID string
		for _, ps := range seq.Steps() {
			inst := StepInstance{
				ID:        uuid.NewString(),
				DossierID: dossier.ID,
				StepID:    ps.StepID,
				CreatedAt: now,
			}
			if ps.StepID == first.StepID {
				started := now
				inst.StartedAt = &started
				firstID = inst.ID
			}
			instances = append(instances, inst)
		}
		if err := tx.CreateStepInstances(ctx, instances); err != nil {
			return fmt.Errorf("create step instances: %w", err)
		}
		if err := tx.SetCurrentStepInstance(ctx, dossier.ID, firstID, now); err != nil {
			return fmt.Errorf("set current step instance: %w", err)
		}
		dossier.CurrentStepInstanceID = &firstID

		if err := tx.AppendEvent(ctx, s.newEvent(EntityDossier, dossier.ID, EventDossierCreated, by, Payload{
			"dossier_id": dossier.ID,
			"user_id":    dossier.UserID,
			"product_id": dossier.ProductID,
			"order_id":   req.OrderID,
			"status":     dossier.Status,
			"step_count": len(instances),
			"is_test":    dossier.IsTest,
		})); err != nil {
			return fmt.Errorf("append dossier created event: %w", err)
		}
		result = ProvisionResult{Dossier: dossier, Created: true}
		return nil
	})
	if err != nil {
		return ProvisionResult{}, err
	}

	if result.Created {
		metrics.IncDossierProvisioned(req.Source)
		telemetry.Info("workflow.dossier.provisioned", map[string]any{
			"dossier_id": result.Dossier.ID,
			"user_id":    req.UserID,
			"product_id": req.ProductID,
			"order_id":   req.OrderID,
			"source":     req.Source,
		})
	}
	return result, nil
}
