package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type docRepoStub struct {
	docs map[string]*models.Document
}

func newDocRepoStub() *docRepoStub {
	return &docRepoStub{docs: map[string]*models.Document{}}
}

func (s *docRepoStub) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = "doc-1"
	}
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *docRepoStub) FindByID(ctx context.Context, tenantID, id string) (*models.Document, error) {
	doc, ok := s.docs[id]
	if !ok || doc.TenantID != tenantID {
		return nil, sql.ErrNoRows
	}
	copied := *doc
	return &copied, nil
}

func (s *docRepoStub) Update(ctx context.Context, doc *models.Document) error {
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *docRepoStub) Delete(ctx context.Context, tenantID, id string) error {
	delete(s.docs, id)
	return nil
}

func newDocService(t *testing.T, repo *docRepoStub, store *memAuditStore, key string) *DocumentService {
	t.Helper()
	return NewDocumentService(repo, newTestAuditor(t, store, key), nil, nil)
}

func TestCreateDocumentAuditsCreationDiff(t *testing.T) {
	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, "")

	doc, err := svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{
		Title:      "Q3 report",
		Body:       "numbers",
		OwnerEmail: "owner@acme.io",
	})
	require.NoError(t, err)
	assert.Equal(t, models.DocumentStatusDraft, doc.Status)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionCreate, event.Action)
	assert.Equal(t, audit.ResourceDocument, event.ResourceType)
	assert.Equal(t, doc.ID, event.ResourceID)

	fields := map[string]audit.FieldChange{}
	for _, change := range event.Changes {
		fields[change.Field] = change
	}
	require.Contains(t, fields, "title")
	assert.Nil(t, fields["title"].Old)
	assert.Equal(t, "Q3 report", fields["title"].New)
}

func TestCreateDocumentEncryptsPIIInDiff(t *testing.T) {
	key, err := audit.GenerateKey()
	require.NoError(t, err)

	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, key)

	_, err = svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{
		Title:      "Q3 report",
		OwnerEmail: "owner@acme.io",
	})
	require.NoError(t, err)

	event := store.waitEvent(t)
	for _, change := range event.Changes {
		if change.Field != "ownerEmail" {
			continue
		}
		encrypted, ok := change.New.(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(encrypted, "enc:"))
		assert.NotEqual(t, "owner@acme.io", encrypted)
		return
	}
	t.Fatal("ownerEmail change not found")
}

func TestUpdateDocumentAuditsOnlyChangedFields(t *testing.T) {
	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, "")

	doc, err := svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{Title: "v1", Body: "body"})
	require.NoError(t, err)
	store.waitEvent(t)

	title := "v2"
	updated, err := svc.Update(context.Background(), "t1", doc.ID, dto.UpdateDocumentRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Title)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionUpdate, event.Action)
	require.Len(t, event.Changes, 1)
	assert.Equal(t, "title", event.Changes[0].Field)
	assert.Equal(t, "v1", event.Changes[0].Old)
	assert.Equal(t, "v2", event.Changes[0].New)
}

func TestUpdateDocumentNoChangesLogsNoEvent(t *testing.T) {
	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, "")

	doc, err := svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{Title: "v1"})
	require.NoError(t, err)
	store.waitEvent(t)

	same := "v1"
	_, err = svc.Update(context.Background(), "t1", doc.ID, dto.UpdateDocumentRequest{Title: &same})
	require.NoError(t, err)

	select {
	case <-store.created:
		t.Fatal("no audit event expected for a no-op update")
	default:
	}
}

func TestDeleteDocumentAuditsDeletionDiff(t *testing.T) {
	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, "")

	doc, err := svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{Title: "gone"})
	require.NoError(t, err)
	store.waitEvent(t)

	require.NoError(t, svc.Delete(context.Background(), "t1", doc.ID))

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionDelete, event.Action)
	fields := map[string]audit.FieldChange{}
	for _, change := range event.Changes {
		fields[change.Field] = change
	}
	require.Contains(t, fields, "title")
	assert.Equal(t, "gone", fields["title"].Old)
	assert.Nil(t, fields["title"].New)
}

func TestGetDocumentScopedToTenant(t *testing.T) {
	repo := newDocRepoStub()
	store := newMemAuditStore()
	svc := newDocService(t, repo, store, "")

	doc, err := svc.Create(context.Background(), "t1", dto.CreateDocumentRequest{Title: "mine"})
	require.NoError(t, err)
	store.waitEvent(t)

	_, err = svc.Get(context.Background(), "t2", doc.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
