package workflow

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"formation-backend/internal/shared/server/middleware"
	"formation-backend/internal/shared/server/respond"
)

// Handler exposes the workflow engine over HTTP.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches workflow routes to the authenticated API group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/dossiers/:dossierId", h.progress)
	rg.GET("/dossiers/:dossierId/events", h.events)

	agent := rg.Group("/agent", middleware.RequireRole(string(RoleAgent), string(RoleAdmin)))
	agent.POST("/steps/create-and-complete", h.createAndComplete)
	agent.POST("/steps/:stepInstanceId/complete", h.complete)

	admin := rg.Group("/admin", middleware.RequireRole(string(RoleAdmin)))
	admin.POST("/steps/:stepInstanceId/approve", h.approve)
	admin.POST("/steps/:stepInstanceId/assign", h.assign)
	admin.POST("/dossiers", h.provision)
}

// ActorFromContext builds the workflow actor from the authenticated identity.
func ActorFromContext(c *gin.Context) Actor {
	return Actor{
		UserID: middleware.UserIDFromContext(c),
		Role:   Role(middleware.UserRoleFromContext(c)),
	}
}

func (h *Handler) complete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("stepInstanceId"))
	c.Set(middleware.StepInstanceIDKey, id)

	var req completeStepRequest
	if c.Request.Body != nil && c.Request.Body != http.NoBody {
		// Chunked bodies report ContentLength -1; an empty body decodes to io.EOF.
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	res, err := h.Svc.CompleteStep(c.Request.Context(), id, ActorFromContext(c), CompleteOptions{Manual: req.Manual})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.DossierIDKey, res.DossierID)
	respond.OK(c, toCompletionResponse(res))
}

func (h *Handler) createAndComplete(c *gin.Context) {
	var req createAndCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	req.DossierID = strings.TrimSpace(req.DossierID)
	req.StepID = strings.TrimSpace(req.StepID)
	if req.DossierID == "" || req.StepID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "dossier_id and step_id are required", nil)
		return
	}
	c.Set(middleware.DossierIDKey, req.DossierID)

	res, err := h.Svc.CreateAndCompleteStep(c.Request.Context(), CreateAndCompleteInput{
		DossierID: req.DossierID,
		StepID:    req.StepID,
		Manual:    req.Manual,
	}, ActorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.StepInstanceIDKey, res.StepInstanceID)
	respond.OK(c, toCompletionResponse(res))
}

func (h *Handler) approve(c *gin.Context) {
	id := strings.TrimSpace(c.Param("stepInstanceId"))
	c.Set(middleware.StepInstanceIDKey, id)

	res, err := h.Svc.ApproveStep(c.Request.Context(), id, ActorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, ApproveResponse{Success: true, StepInstanceID: res.StepInstanceID, DossierStatus: res.DossierStatus})
}

func (h *Handler) assign(c *gin.Context) {
	id := strings.TrimSpace(c.Param("stepInstanceId"))
	c.Set(middleware.StepInstanceIDKey, id)

	var req assignStepRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.AgentID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "agent_id is required", nil)
		return
	}

	inst, err := h.Svc.AssignStep(c.Request.Context(), id, strings.TrimSpace(req.AgentID), ActorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.DossierIDKey, inst.DossierID)
	respond.OK(c, toStepInstanceResponse(inst))
}

func (h *Handler) provision(c *gin.Context) {
	var req provisionDossierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	res, err := h.Svc.ProvisionDossier(c.Request.Context(), ProvisionRequest{
		UserID:    strings.TrimSpace(req.UserID),
		ProductID: strings.TrimSpace(req.ProductID),
		OrderID:   strings.TrimSpace(req.OrderID),
		IsTest:    req.IsTest,
		Source:    SourceManual,
		Actor:     ActorFromContext(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(middleware.DossierIDKey, res.Dossier.ID)
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respond.JSON(c, status, toDossierResponse(res.Dossier))
}

func (h *Handler) progress(c *gin.Context) {
	id := strings.TrimSpace(c.Param("dossierId"))
	c.Set(middleware.DossierIDKey, id)

	p, err := h.Svc.GetDossierProgress(c.Request.Context(), id, ActorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, toProgressResponse(p))
}

func (h *Handler) events(c *gin.Context) {
	id := strings.TrimSpace(c.Param("dossierId"))
	c.Set(middleware.DossierIDKey, id)

	events, err := h.Svc.ListDossierEvents(c.Request.Context(), id, ActorFromContext(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"events": toEventResponses(events)})
}

// writeError maps service errors to the public error contract.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, ErrAlreadyCompleted):
		respond.Error(c, http.StatusBadRequest, "already_completed", err.Error(), nil)
	case errors.Is(err, ErrDocumentsNotDelivered):
		respond.Error(c, http.StatusBadRequest, "documents_not_delivered", err.Error(), nil)
	case errors.Is(err, ErrFailedPrecondition):
		respond.Error(c, http.StatusBadRequest, "failed_precondition", err.Error(), nil)
	case errors.Is(err, ErrConflict):
		respond.Error(c, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
}
