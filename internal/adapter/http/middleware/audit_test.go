package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports/mocks"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditDenied_RecordsForbiddenWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditActionAccessDenied, entry.Action)
		assert.Equal(t, "card", entry.ResourceType)
		assert.Equal(t, "AB12CD34", entry.ResourceID)
		assert.Equal(t, "op-7", entry.Actor)
		assert.Contains(t, entry.Details, string(domain.AuditActionBlockCard))
	})

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.POST("/api/v1/cards/:card_id/block", func(c *gin.Context) {
		c.Set(CtxPrincipal, &domain.Principal{Subject: "op-7", Role: domain.RoleOutlet})
		response.Error(c, apperror.ErrForbidden())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/cards/AB12CD34/block", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditDenied_AnonymousUnauthorized(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)

	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, "anonymous", entry.Actor)
		assert.Equal(t, "transaction", entry.ResourceType)
	})

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.POST("/api/v1/payments", func(c *gin.Context) {
		response.Error(c, apperror.ErrInvalidToken())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuditDenied_Skips(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockAudit := mocks.NewMockAuditService(ctrl)
	// No expectations: success, reads, other failures and unmapped routes are not audited here.

	r := gin.New()
	r.Use(AuditDenied(mockAudit))
	r.POST("/api/v1/payments", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	r.POST("/api/v1/cards", func(c *gin.Context) {
		response.Error(c, apperror.ErrInsufficientBalance())
	})
	r.GET("/api/v1/outlets", func(c *gin.Context) {
		response.Error(c, apperror.ErrForbidden())
	})
	r.POST("/api/v1/unmapped", func(c *gin.Context) {
		response.Error(c, apperror.ErrForbidden())
	})

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/payments"},
		{http.MethodPost, "/api/v1/cards"},
		{http.MethodGet, "/api/v1/outlets"},
		{http.MethodPost, "/api/v1/unmapped"},
	} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, nil))
	}
}

func TestMapRouteToAction(t *testing.T) {
	tests := []struct {
		route    string
		method   string
		action   domain.AuditAction
		resource string
	}{
		{"/api/v1/auth/login", "POST", domain.AuditActionLogin, "session"},
		{"/api/v1/cards", "POST", domain.AuditActionIssueCard, "card"},
		{"/api/v1/cards/topup", "POST", domain.AuditActionTopUp, "card"},
		{"/api/v1/cards/:card_id/cash-out", "POST", domain.AuditActionCashOut, "card"},
		{"/api/v1/payments", "POST", domain.AuditActionPayment, "transaction"},
		{"/api/v1/transactions/:id/refund", "POST", domain.AuditActionRefund, "transaction"},
		{"/api/v1/transactions/:id/reverse", "POST", domain.AuditActionReversal, "transaction"},
		{"/api/v1/outlets/:id/settlements", "POST", domain.AuditActionSettle, "settlement"},
		{"/api/v1/admin/operators", "POST", domain.AuditActionCreateOperator, "operator"},
		{"/api/v1/outlets/:id/settlements", "GET", "", ""},
		{"/unknown", "POST", "", ""},
	}

	for _, tc := range tests {
		action, resource := mapRouteToAction(tc.route, tc.method)
		assert.Equal(t, tc.action, action, "route=%s method=%s", tc.route, tc.method)
		assert.Equal(t, tc.resource, resource, "route=%s method=%s", tc.route, tc.method)
	}
}
