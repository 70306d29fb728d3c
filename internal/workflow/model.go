package workflow

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StepType partitions steps between client-facing and back-office work.
type StepType string

const (
	StepTypeClient StepType = "CLIENT"
	StepTypeAdmin  StepType = "ADMIN"
)

// Role is the authenticated actor's role as supplied by the identity provider.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleAgent  Role = "AGENT"
	RoleAdmin  Role = "ADMIN"
)

// Actor is the caller of a workflow operation.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor holds the ADMIN role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanView reports whether the actor may read the given dossier.
func (a Actor) CanView(d Dossier) bool {
	switch a.Role {
	case RoleAdmin, RoleAgent:
		return true
	case RoleClient:
		return a.UserID != "" && a.UserID == d.UserID
	default:
		return false
	}
}

// Product is a purchasable offering with its own ordered steps.
type Product struct {
	ID            string    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	DossierType   string    `db:"dossier_type" json:"dossierType"`
	InitialStatus string    `db:"initial_status" json:"initialStatus"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Step is a reusable unit of work shared across products.
type Step struct {
	ID       string   `db:"id" json:"id"`
	Code     string   `db:"code" json:"code"`
	Label    string   `db:"label" json:"label"`
	StepType StepType `db:"step_type" json:"stepType"`
	Position int      `db:"position" json:"position"`
}

// ProductStep orders a Step within a Product.
type ProductStep struct {
	ProductID               string `db:"product_id" json:"productId"`
	StepID                  string `db:"step_id" json:"stepId"`
	Position                int    `db:"position" json:"position"`
	IsRequired              bool   `db:"is_required" json:"isRequired"`
	DossierStatusOnApproval string `db:"dossier_status_on_approval" json:"dossierStatusOnApproval,omitempty"`
}

// DocumentType is a named category of required document.
type DocumentType struct {
	ID    string `db:"id" json:"id"`
	Code  string `db:"code" json:"code"`
	Label string `db:"label" json:"label"`
}

// Agent is a back-office worker able to complete steps.
type Agent struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	AgentType AgentType `db:"agent_type" json:"agentType"`
	Name      string    `db:"name" json:"name"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Dossier is a client's case for one product.
type Dossier struct {
	ID                    string     `db:"id"`
	UserID                string     `db:"user_id"`
	ProductID             string     `db:"product_id"`
	Type                  string     `db:"type"`
	Status                string     `db:"status"`
	CurrentStepInstanceID *string    `db:"current_step_instance_id"`
	OrderID               string     `db:"order_id"`
	Metadata              Payload    `db:"metadata"`
	IsTest                bool       `db:"is_test"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
	CompletedAt           *time.Time `db:"completed_at"`
}

// ValidationStatus records the approval outcome of a completed step.
type ValidationStatus string

const ValidationApproved ValidationStatus = "APPROVED"

// StepInstance is the occurrence of a Step inside a Dossier.
type StepInstance struct {
	ID               string            `db:"id"`
	DossierID        string            `db:"dossier_id"`
	StepID           string            `db:"step_id"`
	AssignedTo       *string           `db:"assigned_to"`
	StartedAt        *time.Time        `db:"started_at"`
	CompletedAt      *time.Time        `db:"completed_at"`
	ValidationStatus *ValidationStatus `db:"validation_status"`
	ValidatedBy      *string           `db:"validated_by"`
	ValidatedAt      *time.Time        `db:"validated_at"`
	CreatedAt        time.Time         `db:"created_at"`
}

// StepState is the lifecycle position of a StepInstance.
type StepState string

const (
	StepNotStarted StepState = "NOT_STARTED"
	StepInProgress StepState = "IN_PROGRESS"
	StepCompleted  StepState = "COMPLETED"
)

// State derives the lifecycle state from the persisted timestamps.
func (s StepInstance) State() StepState {
	switch {
	case s.CompletedAt != nil:
		return StepCompleted
	case s.StartedAt != nil:
		return StepInProgress
	default:
		return StepNotStarted
	}
}

// Approved reports whether the instance carries an APPROVED validation.
func (s StepInstance) Approved() bool {
	return s.ValidationStatus != nil && *s.ValidationStatus == ValidationApproved
}

// IsAssignedTo reports whether agentID is the instance's assignee.
func (s StepInstance) IsAssignedTo(agentID string) bool {
	return s.AssignedTo != nil && agentID != "" && *s.AssignedTo == agentID
}

// Completion carries the fields written when a step instance is completed.
type Completion struct {
	CompletedAt time.Time
	// ApprovedBy is set when the completion also approves the step.
	ApprovedBy string
}

// DocumentStatus tracks whether a required document has been delivered.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "PENDING"
	DocumentDelivered DocumentStatus = "DELIVERED"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	return s == DocumentPending || s == DocumentDelivered
}

// Document is the metadata of an artifact attached to a dossier.
type Document struct {
	ID               string         `db:"id"`
	DossierID        string         `db:"dossier_id"`
	DocumentTypeID   string         `db:"document_type_id"`
	StepInstanceID   *string        `db:"step_instance_id"`
	Status           DocumentStatus `db:"status"`
	FileName         string         `db:"file_name"`
	CurrentVersionID string         `db:"current_version_id"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// EventType names an entry of the event log.
type EventType string

const (
	EventStepCompleted        EventType = "STEP_COMPLETED"
	EventStepApproved         EventType = "STEP_APPROVED"
	EventStepAssigned         EventType = "STEP_ASSIGNED"
	EventDossierCreated       EventType = "DOSSIER_CREATED"
	EventDossierStatusChanged EventType = "DOSSIER_STATUS_CHANGED"
)

// ActorType identifies who caused an event.
type ActorType string

const (
	ActorSystem ActorType = "SYSTEM"
	ActorUser   ActorType = "USER"
	ActorAgent  ActorType = "AGENT"
	ActorAdmin  ActorType = "ADMIN"
)

const (
	EntityDossier      = "dossier"
	EntityStepInstance = "step_instance"
)

// Event is an append-only log record. PublishedAt is the outbox delivery marker.
type Event struct {
	ID          string     `db:"id"`
	Seq         int64      `db:"seq"`
	EntityType  string     `db:"entity_type"`
	EntityID    string     `db:"entity_id"`
	EventType   EventType  `db:"event_type"`
	ActorType   ActorType  `db:"actor_type"`
	ActorID     string     `db:"actor_id"`
	Payload     Payload    `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// Payload is a JSON object column.
type Payload map[string]any

// Value implements driver.Valuer.
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (p *Payload) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("payload: unsupported source type %T", src)
	}
	out := Payload{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	}
	*p = out
	return nil
}

// String returns the value stored under key when it is a string.
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}
