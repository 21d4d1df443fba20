package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type userRepoStub struct {
	findByEmail func(ctx context.Context, email string) (*models.User, error)
	lastLoginAt *time.Time
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findByEmail(ctx, email)
}

func (s *userRepoStub) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error {
	s.lastLoginAt = &ts
	return nil
}

func testUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           7,
		TenantID:     "t1",
		Email:        "jane@acme.io",
		PasswordHash: string(hash),
		FullName:     "Jane Doe",
		Role:         models.RoleEditor,
		Active:       true,
	}
}

func newAuthService(t *testing.T, repo *userRepoStub, store *memAuditStore) *AuthService {
	t.Helper()
	auditor := newTestAuditor(t, store, "")
	cfg := AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "folio"}
	return NewAuthService(repo, auditor, nil, nil, cfg)
}

func TestLoginIssuesTokenAndAuditsSuccess(t *testing.T) {
	user := testUser(t, "hunter22")
	repo := &userRepoStub{findByEmail: func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}}
	store := newMemAuditStore()
	svc := newAuthService(t, repo, store)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "hunter22"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, user.ID, resp.User.ID)
	require.NotNil(t, repo.lastLoginAt)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.TenantID, claims.TenantID)
	assert.Equal(t, models.RoleEditor, claims.Role)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionLogin, event.Action)
	assert.Equal(t, audit.ResourceUser, event.ResourceType)
	require.NotNil(t, event.ActorID)
	assert.Equal(t, user.ID, *event.ActorID)
}

func TestLoginEnrichesAmbientActor(t *testing.T) {
	user := testUser(t, "hunter22")
	repo := &userRepoStub{findByEmail: func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}}
	store := newMemAuditStore()
	svc := newAuthService(t, repo, store)

	rc := audit.NewRequestContext(audit.RequestMeta{Method: "POST", Path: "/auth/login"})
	ctx := audit.WithContext(context.Background(), rc)

	_, err := svc.Login(ctx, models.LoginRequest{Email: user.Email, Password: "hunter22"})
	require.NoError(t, err)

	snap := rc.Snapshot()
	require.NotNil(t, snap.ActorID)
	assert.Equal(t, user.ID, *snap.ActorID)
	require.NotNil(t, snap.ActorEmail)
	assert.Equal(t, user.Email, *snap.ActorEmail)
	assert.Equal(t, audit.ActorTypeUser, snap.ActorType)
	store.waitEvent(t)
}

func TestLoginUnknownEmailAuditsFailure(t *testing.T) {
	repo := &userRepoStub{findByEmail: func(ctx context.Context, email string) (*models.User, error) {
		return nil, sql.ErrNoRows
	}}
	store := newMemAuditStore()
	svc := newAuthService(t, repo, store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@acme.io", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionLoginFailed, event.Action)
	require.NotNil(t, event.Metadata)
	assert.Equal(t, "unknown email", event.Metadata["reason"])
}

func TestLoginWrongPasswordAuditsFailure(t *testing.T) {
	user := testUser(t, "hunter22")
	repo := &userRepoStub{findByEmail: func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}}
	store := newMemAuditStore()
	svc := newAuthService(t, repo, store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionLoginFailed, event.Action)
	assert.Equal(t, "wrong password", event.Metadata["reason"])
}

func TestLoginInactiveAccountRejected(t *testing.T) {
	user := testUser(t, "hunter22")
	user.Active = false
	repo := &userRepoStub{findByEmail: func(ctx context.Context, email string) (*models.User, error) {
		return user, nil
	}}
	store := newMemAuditStore()
	svc := newAuthService(t, repo, store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "hunter22"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)

	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionLoginFailed, event.Action)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	repo := &userRepoStub{}
	svc := newAuthService(t, repo, newMemAuditStore())

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestLogoutAuditsSession(t *testing.T) {
	store := newMemAuditStore()
	svc := newAuthService(t, &userRepoStub{}, store)

	svc.Logout(context.Background(), &models.JWTClaims{UserID: 7, Email: "jane@acme.io"})
	event := store.waitEvent(t)
	assert.Equal(t, audit.ActionLogout, event.Action)
	require.NotNil(t, event.ActorID)
	assert.Equal(t, int64(7), *event.ActorID)
}
