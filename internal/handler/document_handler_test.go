package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/middleware"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type documentManagerMock struct {
	doc        *models.Document
	err        error
	lastTenant string
}

func (m *documentManagerMock) Create(ctx context.Context, tenantID string, req dto.CreateDocumentRequest) (*models.Document, error) {
	m.lastTenant = tenantID
	if m.err != nil {
		return nil, m.err
	}
	return m.doc, nil
}

func (m *documentManagerMock) Get(ctx context.Context, tenantID, id string) (*models.Document, error) {
	m.lastTenant = tenantID
	if m.err != nil {
		return nil, m.err
	}
	return m.doc, nil
}

func (m *documentManagerMock) Update(ctx context.Context, tenantID, id string, req dto.UpdateDocumentRequest) (*models.Document, error) {
	m.lastTenant = tenantID
	if m.err != nil {
		return nil, m.err
	}
	return m.doc, nil
}

func (m *documentManagerMock) Delete(ctx context.Context, tenantID, id string) error {
	m.lastTenant = tenantID
	return m.err
}

func editorContext(w *httptest.ResponseRecorder) (*gin.Context, *models.JWTClaims) {
	c, _ := gin.CreateTestContext(w)
	claims := &models.JWTClaims{UserID: 1, TenantID: "t1", Role: models.RoleEditor}
	c.Set(middleware.ContextUserKey, claims)
	return c, claims
}

func TestDocumentHandlerCreateScopesTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &documentManagerMock{doc: &models.Document{ID: "d1", TenantID: "t1", Title: "x"}}
	handler := NewDocumentHandler(mock)

	w := httptest.NewRecorder()
	c, _ := editorContext(w)
	body, _ := json.Marshal(dto.CreateDocumentRequest{Title: "x"})
	req, _ := http.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "t1", mock.lastTenant)
}

func TestDocumentHandlerCreateRequiresClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDocumentHandler(&documentManagerMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.CreateDocumentRequest{Title: "x"})
	req, _ := http.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDocumentHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDocumentHandler(&documentManagerMock{})

	w := httptest.NewRecorder()
	c, _ := editorContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDocumentHandler(&documentManagerMock{err: appErrors.ErrNotFound})

	w := httptest.NewRecorder()
	c, _ := editorContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/documents/missing", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandlerDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &documentManagerMock{}
	handler := NewDocumentHandler(mock)

	w := httptest.NewRecorder()
	c, _ := editorContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/documents/d1", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "d1"}}

	handler.Delete(c)
	// A status-only response is not flushed to the recorder until the
	// writer is finalized, which gin normally does after the chain.
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "t1", mock.lastTenant)
}
