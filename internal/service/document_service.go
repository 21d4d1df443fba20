package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type documentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, tenantID, id string) (*models.Document, error)
	Update(ctx context.Context, doc *models.Document) error
	Delete(ctx context.Context, tenantID, id string) error
}

// DocumentService manages tenant documents. Every write produces an
// audit event with a field-level diff; PII fields arrive in the trail
// already encrypted.
type DocumentService struct {
	repo      documentRepository
	auditor   *audit.Service
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDocumentService constructs a DocumentService instance.
func NewDocumentService(repo documentRepository, auditor *audit.Service, validate *validator.Validate, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DocumentService{repo: repo, auditor: auditor, validator: validate, logger: logger}
}

// Create stores a new document and records a creation diff.
func (s *DocumentService) Create(ctx context.Context, tenantID string, req dto.CreateDocumentRequest) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	status := models.DocumentStatus(req.Status)
	if status == "" {
		status = models.DocumentStatusDraft
	}

	doc := &models.Document{
		TenantID:   tenantID,
		Title:      req.Title,
		Body:       req.Body,
		Status:     status,
		OwnerEmail: req.OwnerEmail,
		AuthorName: req.AuthorName,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceDocument,
		ResourceID:   doc.ID,
		ResourceName: doc.Title,
		Changes:      s.auditor.ComputeChanges(nil, doc.Snapshot(), audit.ResourceDocument, nil),
	})

	return doc, nil
}

// Get fetches a document scoped to a tenant.
func (s *DocumentService) Get(ctx context.Context, tenantID, id string) (*models.Document, error) {
	doc, err := s.repo.FindByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch document")
	}
	return doc, nil
}

// Update applies the provided fields and records the resulting diff.
// An update that changes nothing still succeeds but logs no event.
func (s *DocumentService) Update(ctx context.Context, tenantID, id string, req dto.UpdateDocumentRequest) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	doc, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	before := doc.Snapshot()

	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.Body != nil {
		doc.Body = *req.Body
	}
	if req.Status != nil {
		doc.Status = models.DocumentStatus(*req.Status)
	}
	if req.OwnerEmail != nil {
		doc.OwnerEmail = *req.OwnerEmail
	}
	if req.AuthorName != nil {
		doc.AuthorName = *req.AuthorName
	}

	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update document")
	}

	changes := s.auditor.ComputeChanges(before, doc.Snapshot(), audit.ResourceDocument, nil)
	if len(changes) > 0 {
		s.auditor.Log(ctx, audit.Entry{
			Action:       audit.ActionUpdate,
			ResourceType: audit.ResourceDocument,
			ResourceID:   doc.ID,
			ResourceName: doc.Title,
			Changes:      changes,
		})
	}

	return doc, nil
}

// Delete removes a document and records the deletion diff.
func (s *DocumentService) Delete(ctx context.Context, tenantID, id string) error {
	doc, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, tenantID, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}

	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionDelete,
		ResourceType: audit.ResourceDocument,
		ResourceID:   doc.ID,
		ResourceName: doc.Title,
		Changes:      s.auditor.ComputeChanges(doc.Snapshot(), nil, audit.ResourceDocument, nil),
	})

	return nil
}
