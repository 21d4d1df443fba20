package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/dto"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
	"github.com/foliohq/folio-api/pkg/export"
)

const (
	auditCachePrefix   = "audit:list:"
	defaultPageSize    = 50
	exportMaxEvents    = 5000
	exportTimeFormat   = "2006-01-02 15:04:05"
	filterDateLayout   = "2006-01-02"
	exportCSVMimeType  = "text/csv"
	exportPDFMimeType  = "application/pdf"
	exportFileBasename = "audit-events"
)

type auditEventStore interface {
	FindByID(ctx context.Context, id string) (*audit.Event, error)
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, int64, error)
	VerifyIntegrity(ctx context.Context, id string) (bool, error)
}

type auditListingCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cacheRecorder interface {
	AuditCacheHit()
	AuditCacheMiss()
}

// AuditEventPage is one page of viewer results.
type AuditEventPage struct {
	Events   []audit.Event `json:"events"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ExportResult carries a rendered export file.
type ExportResult struct {
	FileName    string
	ContentType string
	Content     []byte
}

// AuditQueryService is the read side of the audit trail: filtered
// listings, integrity checks, and file exports. Listings of encrypted
// events are cached; decrypted views never are.
type AuditQueryService struct {
	store     auditEventStore
	cache     auditListingCache
	auditor   *audit.Service
	csv       *export.CSVExporter
	pdf       *export.PDFExporter
	validator *validator.Validate
	metrics   cacheRecorder
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewAuditQueryService constructs the audit viewer service.
func NewAuditQueryService(store auditEventStore, cache auditListingCache, auditor *audit.Service, metrics cacheRecorder, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *AuditQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuditQueryService{
		store:     store,
		cache:     cache,
		auditor:   auditor,
		csv:       export.NewCSVExporter(),
		pdf:       export.NewPDFExporter(),
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// List returns one page of audit events. When req.Decrypt is set the
// caller must hold an admin role; PII fields are then decrypted before
// the page is returned.
func (s *AuditQueryService) List(ctx context.Context, claims *models.JWTClaims, req dto.ListAuditEventsRequest) (*AuditEventPage, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid audit query")
	}
	if req.Decrypt && !canViewPII(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "decrypted audit access requires an admin role")
	}

	filter, err := buildAuditFilter(req)
	if err != nil {
		return nil, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}

	key := s.listCacheKey(filter)
	if !req.Decrypt && s.cache != nil {
		cached := &AuditEventPage{}
		if err := s.cache.Get(ctx, key, cached); err == nil {
			if s.metrics != nil {
				s.metrics.AuditCacheHit()
			}
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("audit listing cache read failed", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.AuditCacheMiss()
		}
	}

	events, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit events")
	}

	if req.Decrypt {
		for i := range events {
			events[i] = s.auditor.DecryptEvent(events[i])
		}
	}

	result := &AuditEventPage{Events: events, Total: total, Page: page, PageSize: filter.Limit}

	if !req.Decrypt && s.cache != nil {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.logger.Warn("audit listing cache write failed", zap.Error(err))
		}
	}

	return result, nil
}

// Get returns a single audit event by id.
func (s *AuditQueryService) Get(ctx context.Context, claims *models.JWTClaims, id string, decrypt bool) (*audit.Event, error) {
	if decrypt && !canViewPII(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "decrypted audit access requires an admin role")
	}

	event, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "audit event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch audit event")
	}

	if decrypt {
		decrypted := s.auditor.DecryptEvent(*event)
		return &decrypted, nil
	}
	return event, nil
}

// VerifyIntegrity recomputes an event's hash against the stored one.
func (s *AuditQueryService) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.VerifyIntegrity(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrNotFound, "audit event not found")
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify audit event")
	}
	return ok, nil
}

// Export renders matching events as CSV or PDF. The export itself is an
// audited action.
func (s *AuditQueryService) Export(ctx context.Context, claims *models.JWTClaims, req dto.ExportAuditEventsRequest) (*ExportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export request")
	}
	if req.Decrypt && !canViewPII(claims) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "decrypted audit export requires an admin role")
	}

	filter, err := buildAuditFilter(req.ListAuditEventsRequest)
	if err != nil {
		return nil, err
	}
	filter.Limit = exportMaxEvents
	filter.Offset = 0

	events, _, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit events")
	}
	if req.Decrypt {
		for i := range events {
			events[i] = s.auditor.DecryptEvent(events[i])
		}
	}

	dataset := buildExportDataset(events)

	format := req.Format
	if format == "" {
		format = "csv"
	}

	var result *ExportResult
	switch format {
	case "pdf":
		content, err := s.pdf.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		result = &ExportResult{
			FileName:    fmt.Sprintf("%s-%s.pdf", exportFileBasename, time.Now().UTC().Format(filterDateLayout)),
			ContentType: exportPDFMimeType,
			Content:     content,
		}
	default:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		result = &ExportResult{
			FileName:    fmt.Sprintf("%s-%s.csv", exportFileBasename, time.Now().UTC().Format(filterDateLayout)),
			ContentType: exportCSVMimeType,
			Content:     content,
		}
	}

	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionExport,
		ResourceType: audit.ResourceAuditLog,
		ResourceID:   result.FileName,
		Metadata: map[string]any{
			"format":    format,
			"events":    len(events),
			"decrypted": req.Decrypt,
		},
	})

	return result, nil
}

func canViewPII(claims *models.JWTClaims) bool {
	if claims == nil {
		return false
	}
	return claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
}

func buildAuditFilter(req dto.ListAuditEventsRequest) (audit.Filter, error) {
	filter := audit.Filter{
		ActorID:      req.ActorID,
		ActorType:    audit.ActorType(req.ActorType),
		Action:       audit.Action(req.Action),
		ResourceType: audit.ResourceType(req.ResourceType),
		ResourceID:   req.ResourceID,
	}

	if req.From != "" {
		from, err := time.Parse(filterDateLayout, req.From)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid from date")
		}
		filter.From = &from
	}
	if req.To != "" {
		to, err := time.Parse(filterDateLayout, req.To)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "invalid to date")
		}
		// Inclusive upper bound covers the whole day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		filter.To = &end
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	return filter, nil
}

func (s *AuditQueryService) listCacheKey(filter audit.Filter) string {
	raw, err := json.Marshal(filter)
	if err != nil {
		return auditCachePrefix + "unkeyed"
	}
	sum := sha256.Sum256(raw)
	return auditCachePrefix + hex.EncodeToString(sum[:16])
}

func buildExportDataset(events []audit.Event) export.Dataset {
	headers := []string{"Timestamp", "Actor", "Type", "Action", "Resource", "Resource ID", "Changes"}
	widths := []float64{3, 4, 2, 2, 2, 3, 5}
	rows := make([]map[string]string, 0, len(events))
	for _, event := range events {
		actor := ""
		if event.ActorEmail != nil {
			actor = *event.ActorEmail
		} else if event.ActorID != nil {
			actor = fmt.Sprintf("#%d", *event.ActorID)
		}
		rows = append(rows, map[string]string{
			"Timestamp":   event.Timestamp.UTC().Format(exportTimeFormat),
			"Actor":       actor,
			"Type":        string(event.ActorType),
			"Action":      string(event.Action),
			"Resource":    string(event.ResourceType),
			"Resource ID": event.ResourceID,
			"Changes":     summarizeChanges(event.Changes),
		})
	}
	return export.Dataset{Title: "Audit Trail", Headers: headers, Widths: widths, Rows: rows}
}

func summarizeChanges(changes []audit.FieldChange) string {
	if len(changes) == 0 {
		return ""
	}
	out := ""
	for i, change := range changes {
		if i > 0 {
			out += "; "
		}
		out += change.Field
	}
	return out
}
