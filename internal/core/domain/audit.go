package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionIssueCard      AuditAction = "ISSUE_CARD"
	AuditActionActivateCard   AuditAction = "ACTIVATE_CARD"
	AuditActionDeactivateCard AuditAction = "DEACTIVATE_CARD"
	AuditActionBlockCard      AuditAction = "BLOCK_CARD"
	AuditActionUnblockCard    AuditAction = "UNBLOCK_CARD"
	AuditActionPayment        AuditAction = "PAYMENT"
	AuditActionTopUp          AuditAction = "TOPUP"
	AuditActionRefund         AuditAction = "REFUND"
	AuditActionReversal       AuditAction = "REVERSAL"
	AuditActionCashOut        AuditAction = "CASH_OUT"
	AuditActionSettle         AuditAction = "SETTLE"
	AuditActionCreateOutlet   AuditAction = "CREATE_OUTLET"
	AuditActionCreateOperator AuditAction = "CREATE_OPERATOR"
	AuditActionLogin          AuditAction = "LOGIN"
	AuditActionAccessDenied   AuditAction = "ACCESS_DENIED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Actor        string      `json:"actor"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
