package handler

import (
	"strconv"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AdminHandler handles the administrator dashboard.
type AdminHandler struct {
	analyticsSvc ports.AnalyticsService
	auditSvc     ports.AuditService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(analyticsSvc ports.AnalyticsService, auditSvc ports.AuditService) *AdminHandler {
	return &AdminHandler{analyticsSvc: analyticsSvc, auditSvc: auditSvc}
}

// Analytics handles GET /api/v1/admin/analytics.
func (h *AdminHandler) Analytics(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	analytics, err := h.analyticsSvc.System(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, analytics)
}

// AuditLogs handles GET /api/v1/admin/audit, newest first.
func (h *AdminHandler) AuditLogs(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	// Zero lets the service apply its default; it also caps large values.
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	logs, err := h.auditSvc.List(c.Request.Context(), principal, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	response.OK(c, logs)
}
