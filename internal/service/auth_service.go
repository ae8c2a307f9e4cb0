package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const minPasswordLength = 8

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	operatorRepo ports.OperatorRepository
	outletRepo   ports.OutletRepository
	hashSvc      ports.HashService
	tokenSvc     ports.TokenService
	audit        ports.AuditService
	log          zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl.
func NewAuthService(
	operatorRepo ports.OperatorRepository,
	outletRepo ports.OutletRepository,
	hashSvc ports.HashService,
	tokenSvc ports.TokenService,
	audit ports.AuditService,
	log zerolog.Logger,
) *AuthServiceImpl {
	return &AuthServiceImpl{
		operatorRepo: operatorRepo,
		outletRepo:   outletRepo,
		hashSvc:      hashSvc,
		tokenSvc:     tokenSvc,
		audit:        audit,
		log:          log,
	}
}

// Login validates credentials and returns a JWT token for the operator's principal.
func (s *AuthServiceImpl) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	operator, err := s.operatorRepo.GetByUsername(ctx, username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("find operator: %w", err))
	}
	if operator == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, operator.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !operator.Active {
		return "", time.Time{}, apperror.ErrOperatorDisabled()
	}

	token, expiry, err := s.tokenSvc.Generate(operator.Principal())
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        operator.ID.String(),
		Action:       domain.AuditActionLogin,
		ResourceType: "operator",
		ResourceID:   operator.Username,
		CreatedAt:    time.Now().UTC(),
	})

	return token, expiry, nil
}

// CreateOperator adds a login account. Outlet operators must name an existing outlet.
func (s *AuthServiceImpl) CreateOperator(ctx context.Context, actor *domain.Principal, req ports.CreateOperatorRequest) (*domain.Operator, error) {
	if !actor.Authorize(domain.PermManageOperators, nil) {
		return nil, apperror.ErrForbidden()
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, apperror.Validation("username is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, apperror.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if !req.Role.Valid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown role %q", req.Role))
	}

	switch {
	case req.Role == domain.RoleOutlet && req.OutletID == nil:
		return nil, apperror.Validation("outlet operators require outlet_id")
	case req.Role != domain.RoleOutlet && req.OutletID != nil:
		return nil, apperror.Validation("only outlet operators may have an outlet_id")
	case req.OutletID != nil:
		outlet, err := s.outletRepo.GetByID(ctx, *req.OutletID)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("find outlet: %w", err))
		}
		if outlet == nil {
			return nil, apperror.ErrNotFound("Outlet")
		}
	}

	operator, err := s.create(ctx, username, req.Password, req.Role, req.OutletID)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		Actor:        subject(actor),
		Action:       domain.AuditActionCreateOperator,
		ResourceType: "operator",
		ResourceID:   operator.Username,
		Details:      fmt.Sprintf(`{"role":%q}`, operator.Role),
		CreatedAt:    operator.CreatedAt,
	})
	return operator, nil
}

// Bootstrap creates the first administrator. Empty credentials disable it.
func (s *AuthServiceImpl) Bootstrap(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}

	if _, err := s.create(ctx, username, password, domain.RoleAdmin, nil); err != nil {
		if apperror.IsKind(err, apperror.KindConflict) {
			return nil
		}
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	s.log.Info().Str("username", username).Msg("bootstrap administrator created")
	return nil
}

func (s *AuthServiceImpl) create(ctx context.Context, username, password string, role domain.Role, outletID *uuid.UUID) (*domain.Operator, error) {
	existing, err := s.operatorRepo.GetByUsername(ctx, username)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("check username: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrUsernameExists()
	}

	passwordHash, err := s.hashSvc.Hash(password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	operator := &domain.Operator{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		OutletID:     outletID,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.operatorRepo.Create(ctx, operator); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return nil, apperror.ErrUsernameExists()
		}
		return nil, apperror.InternalError(fmt.Errorf("create operator: %w", err))
	}
	return operator, nil
}
