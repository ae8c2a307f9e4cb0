package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operator is a login account that maps to a Principal when authenticated.
type Operator struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"` // Never expose
	Role         Role       `json:"role"`
	OutletID     *uuid.UUID `json:"outlet_id,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Principal returns the identity an authenticated operator acts as.
func (o *Operator) Principal() *Principal {
	return &Principal{Subject: o.ID.String(), Role: o.Role, OutletID: o.OutletID}
}
