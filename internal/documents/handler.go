package documents

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"formation-backend/internal/shared/server/middleware"
	"formation-backend/internal/shared/server/respond"
	"formation-backend/internal/workflow"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/dossiers/:dossierId/documents", h.register)
	rg.GET("/dossiers/:dossierId/documents", h.list)
	rg.PATCH("/documents/:documentId/status", h.updateStatus)
}

func (h *Handler) register(c *gin.Context) {
	dossierID := strings.TrimSpace(c.Param("dossierId"))
	c.Set(middleware.DossierIDKey, dossierID)

	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.DocumentTypeID) == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "document_type_id is required", nil)
		return
	}

	doc, err := h.Svc.Register(c.Request.Context(), workflow.ActorFromContext(c), RegisterInput{
		DossierID:      dossierID,
		DocumentTypeID: req.DocumentTypeID,
		StepInstanceID: req.StepInstanceID,
		FileName:       req.FileName,
		VersionID:      req.VersionID,
	})
	if err != nil {
		writeError(c, err, "failed to register document")
		return
	}
	respond.JSON(c, http.StatusCreated, toResponse(doc))
}

func (h *Handler) list(c *gin.Context) {
	dossierID := strings.TrimSpace(c.Param("dossierId"))
	c.Set(middleware.DossierIDKey, dossierID)

	docs, err := h.Svc.List(c.Request.Context(), workflow.ActorFromContext(c), dossierID)
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}
	items := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, toResponse(doc))
	}
	respond.OK(c, gin.H{"items": items})
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	status := workflow.DocumentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))

	doc, err := h.Svc.UpdateStatus(c.Request.Context(), workflow.ActorFromContext(c), c.Param("documentId"), status)
	if err != nil {
		writeError(c, err, "failed to update document")
		return
	}
	c.Set(middleware.DossierIDKey, doc.DossierID)
	respond.OK(c, toResponse(doc))
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, workflow.ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", err.Error(), nil)
	case errors.Is(err, workflow.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, workflow.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
