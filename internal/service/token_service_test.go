package service

import (
	"testing"
	"time"

	"prepaid-card-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "test-issuer")
	outletID := uuid.New()

	tests := []struct {
		name      string
		principal *domain.Principal
	}{
		{"admin", &domain.Principal{Subject: uuid.NewString(), Role: domain.RoleAdmin}},
		{"outlet", &domain.Principal{Subject: uuid.NewString(), Role: domain.RoleOutlet, OutletID: &outletID}},
		{"customer", &domain.Principal{Subject: "kiosk-1", Role: domain.RoleCustomer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStr, expiresAt, err := svc.Generate(tt.principal)
			require.NoError(t, err)
			assert.NotEmpty(t, tokenStr)
			assert.True(t, expiresAt.After(time.Now()))

			got, err := svc.Validate(tokenStr)
			require.NoError(t, err)
			assert.Equal(t, tt.principal, got)
		})
	}
}

func TestJWTTokenService_GenerateRejectsInvalidPrincipal(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, time.Hour, "issuer")

	_, _, err := svc.Generate(nil)
	assert.Error(t, err)

	_, _, err = svc.Generate(&domain.Principal{Subject: "x", Role: "root"})
	assert.Error(t, err)
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	// Token with -1 hour expiry = already expired
	svc := NewJWTTokenService(testJWTSecret, -1*time.Hour, "test-issuer")

	tokenStr, _, err := svc.Generate(&domain.Principal{Subject: "admin", Role: domain.RoleAdmin})
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err, "expired token should fail validation")
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", 24*time.Hour, "issuer")
	svc2 := NewJWTTokenService("secret-2", 24*time.Hour, "issuer")

	tokenStr, _, err := svc1.Generate(&domain.Principal{Subject: "admin", Role: domain.RoleAdmin})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err, "token signed with different secret should fail")
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	svc1 := NewJWTTokenService(testJWTSecret, time.Hour, "issuer-a")
	svc2 := NewJWTTokenService(testJWTSecret, time.Hour, "issuer-b")

	tokenStr, _, err := svc1.Generate(&domain.Principal{Subject: "admin", Role: domain.RoleAdmin})
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "issuer")

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}
