package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"formation-backend/internal/shared/telemetry"
	"formation-backend/internal/shared/util"
	"formation-backend/internal/workflow"
)

// Store is the slice of the workflow store that document metadata needs.
type Store interface {
	GetDossier(ctx context.Context, id string) (workflow.Dossier, error)
	GetDocumentType(ctx context.Context, id string) (workflow.DocumentType, error)
	GetStepInstance(ctx context.Context, id string) (workflow.StepInstance, error)
	GetDocument(ctx context.Context, id string) (workflow.Document, error)
	UpsertDocument(ctx context.Context, doc workflow.Document) (workflow.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status workflow.DocumentStatus, at time.Time) error
	ListDocuments(ctx context.Context, dossierID string) ([]workflow.Document, error)
}

// Service records document metadata that gates step readiness. File bytes
// live elsewhere; only the current version id is tracked here.
type Service struct {
	Store Store
	Now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{Store: store}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// RegisterInput describes a document attached to a dossier.
type RegisterInput struct {
	DossierID      string
	DocumentTypeID string
	// StepInstanceID scopes the document to one step instance. Empty means
	// dossier-wide, which never satisfies a step's readiness.
	StepInstanceID string
	FileName       string
	VersionID      string
}

// Register creates or replaces the document for (dossier, type, step instance).
// A document carrying a version id is DELIVERED, otherwise PENDING.
func (s *Service) Register(ctx context.Context, actor workflow.Actor, in RegisterInput) (workflow.Document, error) {
	in.DossierID = strings.TrimSpace(in.DossierID)
	in.DocumentTypeID = strings.TrimSpace(in.DocumentTypeID)
	in.StepInstanceID = strings.TrimSpace(in.StepInstanceID)
	in.VersionID = strings.TrimSpace(in.VersionID)
	if in.DossierID == "" || in.DocumentTypeID == "" {
		return workflow.Document{}, fmt.Errorf("%w: dossier id and document type id are required", workflow.ErrInvalidInput)
	}
	if strings.TrimSpace(in.FileName) != "" {
		name, err := util.SanitizeFileName(in.FileName)
		if err != nil {
			return workflow.Document{}, fmt.Errorf("%w: %v", workflow.ErrInvalidInput, err)
		}
		in.FileName = name
	} else {
		in.FileName = ""
	}

	dossier, err := s.Store.GetDossier(ctx, in.DossierID)
	if err != nil {
		return workflow.Document{}, err
	}
	if !actor.CanView(dossier) {
		return workflow.Document{}, fmt.Errorf("%w: dossier belongs to another user", workflow.ErrForbidden)
	}
	if _, err := s.Store.GetDocumentType(ctx, in.DocumentTypeID); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return workflow.Document{}, fmt.Errorf("%w: unknown document type %s", workflow.ErrInvalidInput, in.DocumentTypeID)
		}
		return workflow.Document{}, err
	}

	var scope *string
	if in.StepInstanceID != "" {
		inst, err := s.Store.GetStepInstance(ctx, in.StepInstanceID)
		if err != nil {
			if errors.Is(err, workflow.ErrNotFound) {
				return workflow.Document{}, fmt.Errorf("%w: unknown step instance %s", workflow.ErrInvalidInput, in.StepInstanceID)
			}
			return workflow.Document{}, err
		}
		if inst.DossierID != dossier.ID {
			return workflow.Document{}, fmt.Errorf("%w: step instance belongs to another dossier", workflow.ErrInvalidInput)
		}
		scope = &inst.ID
	}

	status := workflow.DocumentPending
	if in.VersionID != "" {
		status = workflow.DocumentDelivered
	}
	now := s.now()
	doc, err := s.Store.UpsertDocument(ctx, workflow.Document{
		ID:               uuid.NewString(),
		DossierID:        dossier.ID,
		DocumentTypeID:   in.DocumentTypeID,
		StepInstanceID:   scope,
		Status:           status,
		FileName:         in.FileName,
		CurrentVersionID: in.VersionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return workflow.Document{}, fmt.Errorf("upsert document: %w", err)
	}

	telemetry.Info("documents.registered", map[string]any{
		"dossier_id":       doc.DossierID,
		"document_id":      doc.ID,
		"document_type_id": doc.DocumentTypeID,
		"status":           doc.Status,
		"user_id":          actor.UserID,
	})
	return doc, nil
}

// UpdateStatus lets back-office users mark a document delivered or pending.
func (s *Service) UpdateStatus(ctx context.Context, actor workflow.Actor, documentID string, status workflow.DocumentStatus) (workflow.Document, error) {
	if actor.Role != workflow.RoleAgent && actor.Role != workflow.RoleAdmin {
		return workflow.Document{}, fmt.Errorf("%w: only agents and admins may change document status", workflow.ErrForbidden)
	}
	if !status.Valid() {
		return workflow.Document{}, fmt.Errorf("%w: unknown document status %q", workflow.ErrInvalidInput, status)
	}
	doc, err := s.Store.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return workflow.Document{}, err
	}
	if doc.Status == status {
		return doc, nil
	}
	now := s.now()
	if err := s.Store.UpdateDocumentStatus(ctx, doc.ID, status, now); err != nil {
		return workflow.Document{}, fmt.Errorf("update document status: %w", err)
	}
	telemetry.Info("documents.status_changed", map[string]any{
		"dossier_id":  doc.DossierID,
		"document_id": doc.ID,
		"from":        doc.Status,
		"to":          status,
		"user_id":     actor.UserID,
	})
	doc.Status = status
	doc.UpdatedAt = now
	return doc, nil
}

// List returns the documents attached to a dossier the actor may view.
func (s *Service) List(ctx context.Context, actor workflow.Actor, dossierID string) ([]workflow.Document, error) {
	dossier, err := s.Store.GetDossier(ctx, strings.TrimSpace(dossierID))
	if err != nil {
		return nil, err
	}
	if !actor.CanView(dossier) {
		return nil, fmt.Errorf("%w: dossier belongs to another user", workflow.ErrForbidden)
	}
	return s.Store.ListDocuments(ctx, dossier.ID)
}
