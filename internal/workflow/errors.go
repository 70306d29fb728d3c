package workflow

import (
	"errors"
	"fmt"
)

// Error classes. Handlers map these to HTTP statuses with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrInvalidInput       = errors.New("invalid input")
)

var (
	ErrNotAgent              = fmt.Errorf("%w: actor is not an agent", ErrForbidden)
	ErrNotAssigned           = fmt.Errorf("%w: step is assigned to another agent", ErrForbidden)
	ErrStepTypeMismatch      = fmt.Errorf("%w: agent type cannot complete this step type", ErrForbidden)
	ErrAdminOnly             = fmt.Errorf("%w: admin role required", ErrForbidden)
	ErrAlreadyCompleted      = fmt.Errorf("%w: step already completed", ErrConflict)
	ErrAlreadyApproved       = fmt.Errorf("%w: step already approved", ErrConflict)
	ErrDocumentsNotDelivered = fmt.Errorf("%w: documents not delivered", ErrFailedPrecondition)
	ErrStepNotCompleted      = fmt.Errorf("%w: step not completed", ErrFailedPrecondition)
	ErrProductInactive       = fmt.Errorf("%w: product inactive", ErrFailedPrecondition)
	ErrProductHasNoSteps     = fmt.Errorf("%w: product has no steps", ErrFailedPrecondition)
	ErrStepNotAdmin          = fmt.Errorf("%w: step is not of type ADMIN", ErrInvalidInput)
	ErrInvalidConfiguration  = fmt.Errorf("%w: invalid workflow configuration", ErrInvalidInput)
)
