package workflow

import "fmt"

// AgentType is the kind of back-office agent.
type AgentType string

const (
	AgentVerificateur AgentType = "verificateur"
	AgentCreateur     AgentType = "createur"
)

// Capability describes which steps an agent type completes and how.
type Capability struct {
	StepType StepType
	// RequiresReadiness gates completion on every required document being delivered.
	RequiresReadiness bool
	// AutoApprove marks the completion as APPROVED.
	AutoApprove bool
}

// Capability returns the fixed capability of the agent type.
// Every new agent type must be given a case here.
func (t AgentType) Capability() (Capability, error) {
	switch t {
	case AgentVerificateur:
		return Capability{StepType: StepTypeClient}, nil
	case AgentCreateur:
		return Capability{StepType: StepTypeAdmin, RequiresReadiness: true, AutoApprove: true}, nil
	default:
		return Capability{}, fmt.Errorf("%w: unknown agent type %q", ErrForbidden, string(t))
	}
}

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	_, err := t.Capability()
	return err == nil
}

// ownerOf returns the agent type whose capability covers the step type.
func ownerOf(st StepType) (AgentType, error) {
	switch st {
	case StepTypeClient:
		return AgentVerificateur, nil
	case StepTypeAdmin:
		return AgentCreateur, nil
	default:
		return "", fmt.Errorf("%w: unknown step type %q", ErrInvalidConfiguration, string(st))
	}
}

// Valid reports whether st is a known step type.
func (st StepType) Valid() bool {
	_, err := ownerOf(st)
	return err == nil
}
