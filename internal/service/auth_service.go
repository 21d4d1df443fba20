package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/foliohq/folio-api/internal/audit"
	"github.com/foliohq/folio-api/internal/models"
	appErrors "github.com/foliohq/folio-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id int64, ts time.Time) error
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// AuthService provides authentication use cases. Every outcome, success
// or failure, lands in the audit trail.
type AuthService struct {
	repo      authUserRepository
	auditor   *audit.Service
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(repo authUserRepository, auditor *audit.Service, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{repo: repo, auditor: auditor, validator: validate, logger: logger, config: config}
}

// Login authenticates a user, enriches the ambient audit context with
// the actor identity, and returns an issued token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.auditLoginFailure(ctx, req.Email, "unknown email")
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.auditLoginFailure(ctx, req.Email, "inactive account")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.auditLoginFailure(ctx, req.Email, "wrong password")
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	if err := s.repo.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	// Identity is known from here on; later audit events in this
	// request attribute to the user automatically.
	audit.UpdateActor(ctx, actorUpdateFor(user))

	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionLogin,
		ResourceType: audit.ResourceUser,
		ResourceID:   formatUserID(user.ID),
		ResourceName: user.FullName,
		ActorID:      &user.ID,
		ActorEmail:   user.Email,
	})

	return &models.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.Expiration.Seconds()),
		IssuedAt:    time.Now().UTC(),
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Role:     user.Role,
		},
	}, nil
}

// Logout records the end of a session.
func (s *AuthService) Logout(ctx context.Context, claims *models.JWTClaims) {
	if claims == nil {
		return
	}
	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionLogout,
		ResourceType: audit.ResourceUser,
		ResourceID:   formatUserID(claims.UserID),
		ActorID:      &claims.UserID,
		ActorEmail:   claims.Email,
	})
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Role:     user.Role,
		Email:    user.Email,
		FullName: user.FullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *AuthService) auditLoginFailure(ctx context.Context, email, reason string) {
	s.auditor.Log(ctx, audit.Entry{
		Action:       audit.ActionLoginFailed,
		ResourceType: audit.ResourceUser,
		ResourceID:   email,
		ActorEmail:   email,
		Metadata:     map[string]any{"reason": reason},
	})
}

func actorUpdateFor(user *models.User) audit.ActorUpdate {
	actorType := audit.ActorTypeUser
	if user.Role == models.RoleSuperAdmin {
		actorType = audit.ActorTypeSuperadmin
	}
	id := user.ID
	email := user.Email
	return audit.ActorUpdate{ActorID: &id, ActorEmail: &email, ActorType: actorType}
}

func formatUserID(id int64) string {
	return fmt.Sprintf("%d", id)
}
