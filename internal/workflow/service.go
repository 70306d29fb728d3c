package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service implements step completion, advancement, status transitions and
// dossier provisioning on top of a Repo.
type Service struct {
	Repo Repo
	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type eventActor struct {
	Type ActorType
	ID   string
}

func (s *Service) newEvent(entityType, entityID string, eventType EventType, by eventActor, payload Payload) Event {
	return Event{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		ActorType:  by.Type,
		ActorID:    by.ID,
		Payload:    payload,
		CreatedAt:  s.now(),
	}
}

// actingAgent is the resolved identity of whoever completes a step.
type actingAgent struct {
	ID    string
	Name  string
	Type  AgentType
	Admin bool
}

func (a actingAgent) eventActor() eventActor {
	if a.Admin {
		return eventActor{Type: ActorAdmin, ID: a.ID}
	}
	return eventActor{Type: ActorAgent, ID: a.ID}
}

// payloadType is the agent_type value recorded on events.
func (a actingAgent) payloadType() string {
	if a.Type != "" {
		return string(a.Type)
	}
	return "admin"
}

// capabilityFor returns the capability the agent acts with on a step of type
// st. Admins act with the capability that owns the step type.
func (a actingAgent) capabilityFor(st StepType) (Capability, error) {
	if a.Admin {
		owner, err := ownerOf(st)
		if err != nil {
			return Capability{}, err
		}
		return owner.Capability()
	}
	return a.Type.Capability()
}

func (s *Service) resolveAgent(ctx context.Context, repo Repo, actor Actor) (actingAgent, error) {
	if actor.UserID == "" {
		return actingAgent{}, ErrNotAgent
	}
	agent, err := repo.GetAgentByUserID(ctx, actor.UserID)
	switch {
	case err == nil:
		if !agent.Active && !actor.IsAdmin() {
			return actingAgent{}, fmt.Errorf("%w: agent %s is inactive", ErrForbidden, agent.ID)
		}
		return actingAgent{ID: agent.ID, Name: agent.Name, Type: agent.AgentType, Admin: actor.IsAdmin()}, nil
	case errors.Is(err, ErrNotFound):
		if actor.IsAdmin() {
			return actingAgent{ID: actor.UserID, Name: "admin", Admin: true}, nil
		}
		return actingAgent{}, ErrNotAgent
	default:
		return actingAgent{}, fmt.Errorf("resolve agent: %w", err)
	}
}

func (s *Service) sequence(ctx context.Context, repo Repo, productID string) (StepSequence, error) {
	rows, err := repo.ListProductSteps(ctx, productID)
	if err != nil {
		return StepSequence{}, fmt.Errorf("load product steps: %w", err)
	}
	return NewStepSequence(rows)
}
