package service

import (
	"fmt"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// principalClaims carries a domain.Principal inside a JWT.
type principalClaims struct {
	Role     domain.Role `json:"role"`
	OutletID string      `json:"outlet_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTTokenService implements ports.TokenService using HS256 JWT.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTTokenService creates a new JWT token service.
func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// Generate creates a signed JWT for the principal.
func (s *JWTTokenService) Generate(principal *domain.Principal) (string, time.Time, error) {
	if principal == nil || !principal.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("invalid principal")
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)

	claims := principalClaims{
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if principal.OutletID != nil {
		claims.OutletID = principal.OutletID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses and validates a JWT token, returning the principal it was issued for.
func (s *JWTTokenService) Validate(tokenString string) (*domain.Principal, error) {
	var claims principalClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("missing subject claim")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid role claim %q", claims.Role)
	}

	principal := &domain.Principal{Subject: claims.Subject, Role: claims.Role}
	if claims.OutletID != "" {
		id, err := uuid.Parse(claims.OutletID)
		if err != nil {
			return nil, fmt.Errorf("invalid outlet ID in token: %w", err)
		}
		principal.OutletID = &id
	}
	if principal.Role == domain.RoleOutlet && principal.OutletID == nil {
		return nil, fmt.Errorf("outlet token without outlet_id")
	}

	return principal, nil
}
