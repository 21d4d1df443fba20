package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliohq/folio-api/internal/audit"
)

func newAuditRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func auditRowColumns() []string {
	return []string{
		"id", "timestamp", "actor_id", "actor_type", "actor_email", "actor_ip", "actor_device",
		"action", "resource_type", "resource_id", "resource_name", "changes", "metadata",
		"event_hash", "created_at",
	}
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &audit.Event{
		Timestamp:    time.Now().UTC(),
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceDocument,
		ResourceID:   "d1",
		Changes:      []audit.FieldChange{{Field: "title", New: "x"}},
	}
	require.NoError(t, repo.Create(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreateBatch(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	events := []audit.Event{
		{Action: audit.ActionCreate, ResourceType: audit.ResourceSite, ResourceID: "s1"},
		{Action: audit.ActionDelete, ResourceType: audit.ResourceSite, ResourceID: "s2"},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), events))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	changes, err := json.Marshal([]audit.FieldChange{{Field: "title", Old: "a", New: "b"}})
	require.NoError(t, err)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(auditRowColumns()).
		AddRow("ev-1", now, int64(7), "user", nil, nil, nil,
			"update", "document", "d1", nil, changes, nil, "hash", now)
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE id").
		WithArgs("ev-1").
		WillReturnRows(rows)

	event, err := repo.FindByID(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, audit.ActionUpdate, event.Action)
	require.NotNil(t, event.ActorID)
	assert.Equal(t, int64(7), *event.ActorID)
	require.Len(t, event.Changes, 1)
	assert.Equal(t, "title", event.Changes[0].Field)
	assert.Equal(t, "a", event.Changes[0].Old)
}

func TestAuditRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	actorID := int64(7)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_events WHERE actor_id").
		WithArgs(actorID, "document").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now().UTC()
	rows := sqlmock.NewRows(auditRowColumns()).
		AddRow("ev-1", now, actorID, "user", nil, nil, nil,
			"update", "document", "d1", nil, nil, nil, "hash", now)
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE actor_id").
		WithArgs(actorID, "document", 50, 0).
		WillReturnRows(rows)

	events, total, err := repo.List(context.Background(), audit.Filter{
		ActorID:      &actorID,
		ResourceType: audit.ResourceDocument,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Nil(t, events[0].Changes)
	assert.Nil(t, events[0].Metadata)
}

func TestAuditRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	mock.ExpectExec("DELETE FROM audit_events WHERE timestamp").
		WillReturnResult(sqlmock.NewResult(0, 42))

	count, err := repo.DeleteOlderThan(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)

	// Non-positive retention disables the sweep.
	count, err = repo.DeleteOlderThan(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAuditRepositoryVerifyIntegrity(t *testing.T) {
	db, mock, cleanup := newAuditRepoMock(t)
	defer cleanup()

	repo := NewAuditRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	genuine := &audit.Event{
		ID:           "ev-1",
		Timestamp:    now,
		ActorType:    audit.ActorTypeUser,
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceDocument,
		ResourceID:   "d1",
	}
	genuine.EventHash = audit.ComputeEventHash(genuine)

	rows := sqlmock.NewRows(auditRowColumns()).
		AddRow("ev-1", now, nil, "user", nil, nil, nil,
			"create", "document", "d1", nil, nil, nil, genuine.EventHash, now)
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE id").
		WithArgs("ev-1").
		WillReturnRows(rows)

	ok, err := repo.VerifyIntegrity(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A tampered resource id must fail verification.
	tamperedRows := sqlmock.NewRows(auditRowColumns()).
		AddRow("ev-1", now, nil, "user", nil, nil, nil,
			"create", "document", "d2-tampered", nil, nil, nil, genuine.EventHash, now)
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE id").
		WithArgs("ev-1").
		WillReturnRows(tamperedRows)

	ok, err = repo.VerifyIntegrity(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
