package domain

import (
	"time"

	"github.com/google/uuid"
)

// BusinessType classifies an outlet.
type BusinessType string

const (
	BusinessTypeRestaurant BusinessType = "restaurant"
	BusinessTypeRetail     BusinessType = "retail"
	BusinessTypeCafe       BusinessType = "cafe"
	BusinessTypeGrocery    BusinessType = "grocery"
	BusinessTypePharmacy   BusinessType = "pharmacy"
	BusinessTypeOther      BusinessType = "other"
)

// Valid reports whether b is one of the accepted business types.
func (b BusinessType) Valid() bool {
	switch b {
	case BusinessTypeRestaurant, BusinessTypeRetail, BusinessTypeCafe,
		BusinessTypeGrocery, BusinessTypePharmacy, BusinessTypeOther:
		return true
	}
	return false
}

// Outlet receives card payments and is paid out through settlements.
type Outlet struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	BusinessType BusinessType `json:"business_type"`
	Address      string       `json:"address,omitempty"`
	TaxID        string       `json:"tax_id,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
}
