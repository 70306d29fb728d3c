package documents

import (
	"time"

	"formation-backend/internal/workflow"
)

type registerRequest struct {
	DocumentTypeID string `json:"document_type_id"`
	StepInstanceID string `json:"step_instance_id"`
	FileName       string `json:"file_name"`
	VersionID      string `json:"version_id"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	DocumentID       string    `json:"documentId"`
	DossierID        string    `json:"dossierId"`
	DocumentTypeID   string    `json:"documentTypeId"`
	StepInstanceID   *string   `json:"stepInstanceId,omitempty"`
	Status           string    `json:"status"`
	FileName         string    `json:"fileName,omitempty"`
	CurrentVersionID string    `json:"currentVersionId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func toResponse(doc workflow.Document) DocumentResponse {
	return DocumentResponse{
		DocumentID:       doc.ID,
		DossierID:        doc.DossierID,
		DocumentTypeID:   doc.DocumentTypeID,
		StepInstanceID:   doc.StepInstanceID,
		Status:           string(doc.Status),
		FileName:         doc.FileName,
		CurrentVersionID: doc.CurrentVersionID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}
