package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/middleware"
	"github.com/foliohq/folio-api/internal/models"
	"github.com/foliohq/folio-api/internal/service"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type auditQuerierMock struct {
	page      *service.AuditEventPage
	event     *audit.Event
	export    *service.ExportResult
	err       error
	lastList  dto.ListAuditEventsRequest
	verified  bool
	verifyErr error
}

func (m *auditQuerierMock) List(ctx context.Context, claims *models.JWTClaims, req dto.ListAuditEventsRequest) (*service.AuditEventPage, error) {
	m.lastList = req
	if m.err != nil {
		return nil, m.err
	}
	return m.page, nil
}

func (m *auditQuerierMock) Get(ctx context.Context, claims *models.JWTClaims, id string, decrypt bool) (*audit.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.event, nil
}

func (m *auditQuerierMock) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	if m.verifyErr != nil {
		return false, m.verifyErr
	}
	return m.verified, nil
}

func (m *auditQuerierMock) Export(ctx context.Context, claims *models.JWTClaims, req dto.ExportAuditEventsRequest) (*service.ExportResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.export, nil
}

func TestAuditHandlerListBindsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &auditQuerierMock{page: &service.AuditEventPage{Events: []audit.Event{}, Total: 0, Page: 2, PageSize: 10}}
	handler := NewAuditHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/audit/events?resource_type=document&page=2&page_size=10&decrypt=true", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: 1, Role: models.RoleAdmin})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "document", mock.lastList.ResourceType)
	assert.Equal(t, 2, mock.lastList.Page)
	assert.True(t, mock.lastList.Decrypt)
}

func TestAuditHandlerListForbiddenPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &auditQuerierMock{err: appErrors.ErrForbidden}
	handler := NewAuditHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/audit/events?decrypt=true", nil)
	c.Request = req

	handler.List(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditHandlerVerifyIntegrity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &auditQuerierMock{verified: true}
	handler := NewAuditHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/audit/events/ev-1/verify", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ev-1"}}

	handler.VerifyIntegrity(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"intact":true`)
}

func TestAuditHandlerExportSetsAttachment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &auditQuerierMock{export: &service.ExportResult{
		FileName:    "audit-events-2026-08-23.csv",
		ContentType: "text/csv",
		Content:     []byte("Timestamp\n"),
	}}
	handler := NewAuditHandler(mock)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/audit/events/export?format=csv", nil)
	c.Request = req

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "audit-events-2026-08-23.csv")
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}
