package workflow

import "time"

type completeStepRequest struct {
	Manual bool `json:"manual"`
}

type createAndCompleteRequest struct {
	DossierID string `json:"dossier_id"`
	StepID    string `json:"step_id"`
	Manual    bool   `json:"manual"`
}

type assignStepRequest struct {
	AgentID string `json:"agent_id"`
}

type provisionDossierRequest struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	OrderID   string `json:"order_id"`
	IsTest    bool   `json:"is_test"`
}

// CompletionResponse is returned by both completion endpoints.
type CompletionResponse struct {
	Success            bool   `json:"success"`
	StepInstanceID     string `json:"stepInstanceId"`
	Advanced           bool   `json:"advanced"`
	NextStepInstanceID string `json:"nextStepInstanceId,omitempty"`
	Approved           bool   `json:"approved"`
	DossierStatus      string `json:"dossierStatus"`
}

func toCompletionResponse(res CompletionResult) CompletionResponse {
	return CompletionResponse{
		Success:            true,
		StepInstanceID:     res.StepInstanceID,
		Advanced:           res.Advanced,
		NextStepInstanceID: res.NextStepInstanceID,
		Approved:           res.Approved,
		DossierStatus:      res.DossierStatus,
	}
}

type ApproveResponse struct {
	Success        bool   `json:"success"`
	StepInstanceID string `json:"stepInstanceId"`
	DossierStatus  string `json:"dossierStatus"`
}

type StepInstanceResponse struct {
	ID               string     `json:"id"`
	DossierID        string     `json:"dossierId"`
	StepID           string     `json:"stepId"`
	State            StepState  `json:"state"`
	AssignedTo       *string    `json:"assignedTo,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ValidationStatus string     `json:"validationStatus,omitempty"`
	ValidatedBy      *string    `json:"validatedBy,omitempty"`
	ValidatedAt      *time.Time `json:"validatedAt,omitempty"`
}

func toStepInstanceResponse(inst StepInstance) StepInstanceResponse {
	resp := StepInstanceResponse{
		ID:          inst.ID,
		DossierID:   inst.DossierID,
		StepID:      inst.StepID,
		State:       inst.State(),
		AssignedTo:  inst.AssignedTo,
		StartedAt:   inst.StartedAt,
		CompletedAt: inst.CompletedAt,
		ValidatedBy: inst.ValidatedBy,
		ValidatedAt: inst.ValidatedAt,
	}
	if inst.ValidationStatus != nil {
		resp.ValidationStatus = string(*inst.ValidationStatus)
	}
	return resp
}

type DossierResponse struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"userId"`
	ProductID             string     `json:"productId"`
	Type                  string     `json:"type"`
	Status                string     `json:"status"`
	CurrentStepInstanceID *string    `json:"currentStepInstanceId,omitempty"`
	OrderID               string     `json:"orderId,omitempty"`
	IsTest                bool       `json:"isTest"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
}

func toDossierResponse(d Dossier) DossierResponse {
	return DossierResponse{
		ID:                    d.ID,
		UserID:                d.UserID,
		ProductID:             d.ProductID,
		Type:                  d.Type,
		Status:                d.Status,
		CurrentStepInstanceID: d.CurrentStepInstanceID,
		OrderID:               d.OrderID,
		IsTest:                d.IsTest,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
		CompletedAt:           d.CompletedAt,
	}
}

type StepProgressResponse struct {
	StepInstanceResponse
	Code             string   `json:"code"`
	Label            string   `json:"label"`
	StepType         StepType `json:"stepType"`
	Position         int      `json:"position"`
	Ready            bool     `json:"ready"`
	MissingDocuments []string `json:"missingDocuments,omitempty"`
}

type ProgressResponse struct {
	Dossier DossierResponse        `json:"dossier"`
	Steps   []StepProgressResponse `json:"steps"`
}

func toProgressResponse(p DossierProgress) ProgressResponse {
	steps := make([]StepProgressResponse, 0, len(p.Steps))
	for _, sp := range p.Steps {
		steps = append(steps, StepProgressResponse{
			StepInstanceResponse: toStepInstanceResponse(sp.Instance),
			Code:                 sp.Step.Code,
			Label:                sp.Step.Label,
			StepType:             sp.Step.StepType,
			Position:             sp.Position,
			Ready:                sp.Ready,
			MissingDocuments:     sp.MissingDocuments,
		})
	}
	return ProgressResponse{Dossier: toDossierResponse(p.Dossier), Steps: steps}
}

type EventResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	EventType  EventType      `json:"eventType"`
	ActorType  ActorType      `json:"actorType"`
	ActorID    string         `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
}

func toEventResponses(events []Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			ID:         e.ID,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			EventType:  e.EventType,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
