package handler

import (
	"net/http"

	"prepaid-card-ledger/internal/adapter/http/dto"
	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles operator authentication and account endpoints.
type AuthHandler struct {
	authSvc ports.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiry, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.LoginResponse{
		Token:     token,
		ExpiresAt: expiry.Unix(),
	})
}

// CreateOperator handles POST /api/v1/admin/operators.
func (h *AuthHandler) CreateOperator(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.CreateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	op, err := h.authSvc.CreateOperator(c.Request.Context(), principal, ports.CreateOperatorRequest{
		Username: req.Username,
		Password: req.Password,
		Role:     domain.Role(req.Role),
		OutletID: req.OutletID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, op)
}

// HealthCheck handles GET /health by pinging every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
