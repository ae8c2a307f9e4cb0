package handler

import (
	"encoding/json"

	"prepaid-card-ledger/internal/adapter/http/middleware"
	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// actor returns the authenticated caller or writes a 401 and returns false.
func actor(c *gin.Context) (*domain.Principal, bool) {
	p := middleware.Principal(c)
	if p == nil {
		response.Error(c, apperror.ErrInvalidToken())
		return nil, false
	}
	return p, true
}

// uuidParam parses a path parameter. A malformed id cannot name anything, so it is a 404.
func uuidParam(c *gin.Context, name, entity string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Error(c, apperror.ErrNotFound(entity))
		return uuid.Nil, false
	}
	return id, true
}

func parseAmount(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, apperror.ErrInvalidAmount()
	}
	return d, nil
}

func parseOptionalAmount(n *json.Number) (*decimal.Decimal, error) {
	if n == nil {
		return nil, nil
	}
	d, err := parseAmount(*n)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
