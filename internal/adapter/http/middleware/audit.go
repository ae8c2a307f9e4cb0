package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditDenied records write attempts rejected with 401 or 403. Successful
// actions are audited by the services themselves.
func AuditDenied(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		attempted, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if attempted == "" {
			return
		}

		actor := "anonymous"
		if p := Principal(c); p != nil {
			actor = p.Subject
		}

		details, _ := json.Marshal(map[string]interface{}{
			"attempted":  attempted,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"request_id": c.GetString(response.RequestIDKey),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			Actor:        actor,
			Action:       domain.AuditActionAccessDenied,
			ResourceType: resourceType,
			ResourceID:   resourceID(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now().UTC(),
		})
	}
}

func resourceID(c *gin.Context) string {
	for _, name := range []string{"card_id", "id"} {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}

// mapRouteToAction resolves a matched route template to the action it performs.
func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	if method != http.MethodPost {
		return "", ""
	}
	route = strings.TrimPrefix(route, "/api/v1")
	switch route {
	case "/cards":
		return domain.AuditActionIssueCard, "card"
	case "/cards/topup":
		return domain.AuditActionTopUp, "card"
	case "/cards/:card_id/activate":
		return domain.AuditActionActivateCard, "card"
	case "/cards/:card_id/deactivate":
		return domain.AuditActionDeactivateCard, "card"
	case "/cards/:card_id/block":
		return domain.AuditActionBlockCard, "card"
	case "/cards/:card_id/unblock":
		return domain.AuditActionUnblockCard, "card"
	case "/cards/:card_id/cash-out":
		return domain.AuditActionCashOut, "card"
	case "/payments":
		return domain.AuditActionPayment, "transaction"
	case "/transactions/:id/refund":
		return domain.AuditActionRefund, "transaction"
	case "/transactions/:id/reverse":
		return domain.AuditActionReversal, "transaction"
	case "/outlets":
		return domain.AuditActionCreateOutlet, "outlet"
	case "/outlets/:id/settlements":
		return domain.AuditActionSettle, "settlement"
	case "/admin/operators":
		return domain.AuditActionCreateOperator, "operator"
	case "/auth/login":
		return domain.AuditActionLogin, "session"
	}
	return "", ""
}
