package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/models"
)

// memAuditStore collects audit events in memory and signals each write
// so tests can wait on the fire-and-forget path.
type memAuditStore struct {
	mu      sync.Mutex
	events  []audit.Event
	created chan struct{}
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{created: make(chan struct{}, 16)}
}

func (s *memAuditStore) Create(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	select {
	case s.created <- struct{}{}:
	default:
	}
	return nil
}

func (s *memAuditStore) CreateBatch(ctx context.Context, events []audit.Event) error { return nil }

func (s *memAuditStore) FindByID(ctx context.Context, id string) (*audit.Event, error) {
	return nil, errors.New("not implemented")
}

func (s *memAuditStore) List(ctx context.Context, filter audit.Filter) ([]audit.Event, int64, error) {
	return nil, 0, nil
}

func (s *memAuditStore) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	return 0, nil
}

func (s *memAuditStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	return 0, nil
}

func (s *memAuditStore) VerifyIntegrity(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (s *memAuditStore) waitEvent(t *testing.T) audit.Event {
	t.Helper()
	select {
	case <-s.created:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

func newTestAuditor(t *testing.T, store audit.Store, key string) *audit.Service {
	t.Helper()
	registry := audit.NewRegistry()
	models.RegisterPIIFields(registry)
	return audit.NewService(store, registry, nil, nil, audit.Config{Enabled: true, EncryptionKey: key})
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: 1, TenantID: "t1", Role: models.RoleAdmin, Email: "admin@acme.io"}
}

func viewerClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: 2, TenantID: "t1", Role: models.RoleViewer, Email: "viewer@acme.io"}
}
