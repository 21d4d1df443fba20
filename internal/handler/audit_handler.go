package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/models"
	"github.com/foliohq/folio-api/internal/service"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
	"github.com/foliohq/folio-api/pkg/response"
)

type auditQuerier interface {
	List(ctx context.Context, claims *models.JWTClaims, req dto.ListAuditEventsRequest) (*service.AuditEventPage, error)
	Get(ctx context.Context, claims *models.JWTClaims, id string, decrypt bool) (*audit.Event, error)
	VerifyIntegrity(ctx context.Context, id string) (bool, error)
	Export(ctx context.Context, claims *models.JWTClaims, req dto.ExportAuditEventsRequest) (*service.ExportResult, error)
}

// AuditHandler exposes the audit trail viewer endpoints.
type AuditHandler struct {
	service auditQuerier
}

// NewAuditHandler creates a new handler.
func NewAuditHandler(svc auditQuerier) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit events
// @Description Filtered, paginated audit trail. Set decrypt=true (admin only) to reveal PII.
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param actor_id query int false "Actor ID"
// @Param action query string false "Action"
// @Param resource_type query string false "Resource type"
// @Param resource_id query string false "Resource ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param decrypt query bool false "Decrypt PII fields"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /audit/events [get]
func (h *AuditHandler) List(c *gin.Context) {
	var req dto.ListAuditEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid audit query"))
		return
	}

	page, err := h.service.List(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	pagination := &models.Pagination{
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: int(page.Total),
	}
	response.JSON(c, http.StatusOK, page.Events, pagination)
}

// Get godoc
// @Summary Fetch a single audit event
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Param decrypt query bool false "Decrypt PII fields"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /audit/events/{id} [get]
func (h *AuditHandler) Get(c *gin.Context) {
	decrypt := c.Query("decrypt") == "true"
	event, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"), decrypt)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, event, nil)
}

// VerifyIntegrity godoc
// @Summary Verify an audit event's integrity hash
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param id path string true "Event ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /audit/events/{id}/verify [get]
func (h *AuditHandler) VerifyIntegrity(c *gin.Context) {
	ok, err := h.service.VerifyIntegrity(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"id": c.Param("id"), "intact": ok}, nil)
}

// Export godoc
// @Summary Export audit events as CSV or PDF
// @Tags Audit
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "Export format (csv or pdf)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /audit/events/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	var req dto.ExportAuditEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export request"))
		return
	}

	result, err := h.service.Export(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.File(c, result.FileName, result.ContentType, result.Content)
}
