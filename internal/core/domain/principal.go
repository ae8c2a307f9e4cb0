package domain

import (
	"github.com/google/uuid"
)

// Role is the closed set of caller kinds.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOutlet   Role = "outlet"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOutlet || r == RoleCustomer
}

// Permission names an action a principal may be allowed to perform.
type Permission string

const (
	PermIssueCard       Permission = "card:issue"
	PermManageCard      Permission = "card:manage"
	PermViewCard        Permission = "card:view"
	PermTopUp           Permission = "card:topup"
	PermPay             Permission = "payment:create"
	PermRefund          Permission = "payment:refund"
	PermReverse         Permission = "payment:reverse"
	PermCashOut         Permission = "card:cashout"
	PermViewHistory     Permission = "ledger:history"
	PermReconcile       Permission = "ledger:reconcile"
	PermManageOutlet    Permission = "outlet:manage"
	PermViewOutlet      Permission = "outlet:view"
	PermSettle          Permission = "settlement:run"
	PermViewSettlement  Permission = "settlement:view"
	PermViewSummary     Permission = "summary:view"
	PermViewAnalytics   Permission = "analytics:view"
	PermManageOperators Permission = "operator:manage"
)

// Outlet-scoped permissions: an outlet principal holds these only for its own outlet.
var outletPermissions = map[Permission]bool{
	PermPay:            true,
	PermRefund:         true,
	PermViewHistory:    true,
	PermViewOutlet:     true,
	PermSettle:         true,
	PermViewSettlement: true,
	PermViewSummary:    true,
}

// Customer permissions apply to the card whose secure key the customer presents.
var customerPermissions = map[Permission]bool{
	PermTopUp:       true,
	PermViewHistory: true,
	PermViewCard:    true,
}

// Principal is the authenticated caller.
type Principal struct {
	Subject  string     `json:"sub"`
	Role     Role       `json:"role"`
	OutletID *uuid.UUID `json:"outlet_id,omitempty"`
}

// IsAdmin reports whether p is an administrator.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Authorize reports whether p may perform perm. outletID is the outlet the
// action targets, or nil when the action is not outlet-bound.
func (p *Principal) Authorize(perm Permission, outletID *uuid.UUID) bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleOutlet:
		if !outletPermissions[perm] || p.OutletID == nil {
			return false
		}
		return outletID == nil || *outletID == *p.OutletID
	case RoleCustomer:
		return customerPermissions[perm]
	default:
		return false
	}
}

// SystemPrincipal is used by background jobs such as the settlement scheduler.
func SystemPrincipal() *Principal {
	return &Principal{Subject: "system", Role: RoleAdmin}
}
