package workflow

import (
	"context"
	"errors"
	"fmt"
)

// IsStepReady reports whether every document type required by the instance's
// step has a DELIVERED document scoped to that instance.
func (s *Service) IsStepReady(ctx context.Context, stepInstanceID string) (bool, error) {
	inst, err := s.Repo.GetStepInstance(ctx, stepInstanceID)
	if err != nil {
		return false, err
	}
	missing, err := s.missingDocuments(ctx, s.Repo, inst)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// missingDocuments returns the required document type ids not yet delivered.
func (s *Service) missingDocuments(ctx context.Context, repo Repo, inst StepInstance) ([]string, error) {
	required, err := repo.RequiredDocumentTypeIDs(ctx, inst.StepID)
	if err != nil {
		return nil, fmt.Errorf("load required document types: %w", err)
	}
	var missing []string
	for _, typeID := range required {
		doc, err := repo.FindDocument(ctx, inst.DossierID, typeID, inst.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				missing = append(missing, typeID)
				continue
			}
			return nil, fmt.Errorf("load document: %w", err)
		}
		if doc.Status != DocumentDelivered {
			missing = append(missing, typeID)
		}
	}
	return missing, nil
}
