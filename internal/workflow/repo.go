package workflow

import (
	"context"
	"time"
)

// CatalogRepo reads and seeds products, steps and document requirements.
type CatalogRepo interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	GetStep(ctx context.Context, id string) (Step, error)
	GetProductStep(ctx context.Context, productID, stepID string) (ProductStep, error)
	ListProductSteps(ctx context.Context, productID string) ([]ProductStep, error)
	GetDocumentType(ctx context.Context, id string) (DocumentType, error)
	RequiredDocumentTypeIDs(ctx context.Context, stepID string) ([]string, error)

	CreateProduct(ctx context.Context, p Product) error
	CreateStep(ctx context.Context, st Step) error
	CreateProductStep(ctx context.Context, ps ProductStep) error
	CreateDocumentType(ctx context.Context, dt DocumentType) error
	RequireDocumentType(ctx context.Context, stepID, documentTypeID string) error
}

// AgentRepo resolves actors to agents.
type AgentRepo interface {
	GetAgent(ctx context.Context, id string) (Agent, error)
	GetAgentByUserID(ctx context.Context, userID string) (Agent, error)
	CreateAgent(ctx context.Context, a Agent) error
}

// DossierRepo persists dossiers and their step instances.
type DossierRepo interface {
	GetDossier(ctx context.Context, id string) (Dossier, error)
	// LockDossier reads the dossier and holds its row until the enclosing
	// transaction ends. Outside InTx it behaves like GetDossier.
	LockDossier(ctx context.Context, id string) (Dossier, error)
	FindDossier(ctx context.Context, userID, productID string) (Dossier, error)
	// CreateDossier inserts d unless a dossier already exists for its
	// (user, product) pair, in which case created is false.
	CreateDossier(ctx context.Context, d Dossier) (created bool, err error)
	SetCurrentStepInstance(ctx context.Context, dossierID, stepInstanceID string, at time.Time) error
	// UpdateDossierStatus also stamps completed_at when status is COMPLETED.
	UpdateDossierStatus(ctx context.Context, dossierID, status string, at time.Time) error

	GetStepInstance(ctx context.Context, id string) (StepInstance, error)
	FindStepInstance(ctx context.Context, dossierID, stepID string) (StepInstance, error)
	ListStepInstances(ctx context.Context, dossierID string) ([]StepInstance, error)
	CreateStepInstances(ctx context.Context, instances []StepInstance) error
	// EnsureStepInstance returns the instance for (dossier, step), inserting
	// inst when none exists.
	EnsureStepInstance(ctx context.Context, inst StepInstance) (StepInstance, error)
	AssignStepInstance(ctx context.Context, id, agentID string) error
	// CompleteStepInstance fails with ErrAlreadyCompleted unless completed_at is still null.
	CompleteStepInstance(ctx context.Context, id string, c Completion) error
	// ApproveStepInstance fails with ErrAlreadyApproved unless the instance is
	// completed and not yet validated.
	ApproveStepInstance(ctx context.Context, id, approvedBy string, at time.Time) error
}

// DocumentRepo persists document metadata.
type DocumentRepo interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	// FindDocument looks up the document for a (dossier, type, step instance)
	// slot. An empty stepInstanceID matches dossier-level documents.
	FindDocument(ctx context.Context, dossierID, documentTypeID, stepInstanceID string) (Document, error)
	UpsertDocument(ctx context.Context, doc Document) (Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, at time.Time) error
	ListDocuments(ctx context.Context, dossierID string) ([]Document, error)
}

// EventRepo is the append-only event log and its outbox view.
type EventRepo interface {
	AppendEvent(ctx context.Context, e Event) error
	ListDossierEvents(ctx context.Context, dossierID string) ([]Event, error)
	ListUnpublishedEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
}

// Repo is the entity store used by the workflow service.
type Repo interface {
	CatalogRepo
	AgentRepo
	DossierRepo
	DocumentRepo
	EventRepo

	// InTx runs fn against a transactional view of the store. Returning an
	// error rolls back every write made through that view. Nested calls join
	// the outer transaction.
	InTx(ctx context.Context, fn func(tx Repo) error) error
}
