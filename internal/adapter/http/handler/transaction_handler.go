package handler

import (
	"prepaid-card-ledger/internal/adapter/http/dto"
	"prepaid-card-ledger/internal/adapter/http/middleware"
	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TransactionHandler handles payments, their corrections and ledger reads.
type TransactionHandler struct {
	coordinator ports.BalanceCoordinator
	ledgerSvc   ports.LedgerService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(coordinator ports.BalanceCoordinator, ledgerSvc ports.LedgerService) *TransactionHandler {
	return &TransactionHandler{coordinator: coordinator, ledgerSvc: ledgerSvc}
}

// Pay handles POST /api/v1/payments.
func (h *TransactionHandler) Pay(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	amount, err := parseAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.coordinator.Pay(c.Request.Context(), principal, ports.PaymentRequest{
		SecureKey:      req.SecureKey,
		Amount:         amount,
		OutletID:       req.OutletID,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
		Description:    req.Description,
		Metadata:       req.Metadata,
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Refund handles POST /api/v1/transactions/:id/refund. An empty amount refunds what is left.
func (h *TransactionHandler) Refund(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Transaction")
	if !ok {
		return
	}

	var req dto.RefundRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	amount, err := parseOptionalAmount(req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.coordinator.Refund(c.Request.Context(), principal, ports.RefundRequest{
		TransactionID:  id,
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Reverse handles POST /api/v1/transactions/:id/reverse.
func (h *TransactionHandler) Reverse(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Transaction")
	if !ok {
		return
	}

	var req dto.ReverseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	result, err := h.coordinator.Reverse(c.Request.Context(), principal, ports.ReverseRequest{
		TransactionID: id,
		Reason:        req.Reason,
		IPAddress:     c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Transaction")
	if !ok {
		return
	}

	view, err := h.ledgerSvc.Get(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, view)
}

// History handles GET /api/v1/transactions.
func (h *TransactionHandler) History(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var q dto.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	req := ports.HistoryRequest{
		CardID:    q.CardID,
		SecureKey: q.SecureKey,
		From:      q.From,
		To:        q.To,
		Type:      domain.TransactionType(q.Type),
		Status:    domain.TransactionStatus(q.Status),
		Cursor:    q.Cursor,
		Limit:     q.Limit,
	}
	if q.OutletID != "" {
		outletID, err := uuid.Parse(q.OutletID)
		if err != nil {
			response.Error(c, apperror.Validation("outlet_id must be a UUID"))
			return
		}
		req.OutletID = &outletID
	}

	page, err := h.ledgerSvc.History(c.Request.Context(), principal, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := page.Items
	if items == nil {
		items = []domain.TransactionView{}
	}
	response.Page(c, items, page.NextCursor)
}
