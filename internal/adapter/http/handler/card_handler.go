package handler

import (
	"prepaid-card-ledger/internal/adapter/http/dto"
	"prepaid-card-ledger/internal/adapter/http/middleware"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// CardHandler handles the card registry and the card-scoped money movements.
type CardHandler struct {
	cardSvc     ports.CardService
	coordinator ports.BalanceCoordinator
	ledgerSvc   ports.LedgerService
}

// NewCardHandler creates a new CardHandler.
func NewCardHandler(cardSvc ports.CardService, coordinator ports.BalanceCoordinator, ledgerSvc ports.LedgerService) *CardHandler {
	return &CardHandler{cardSvc: cardSvc, coordinator: coordinator, ledgerSvc: ledgerSvc}
}

// Issue handles POST /api/v1/cards.
func (h *CardHandler) Issue(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.IssueCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	initial, err := parseAmount(req.InitialBalance)
	if err != nil {
		response.Error(c, err)
		return
	}
	daily, err := parseOptionalAmount(req.DailyLimit)
	if err != nil {
		response.Error(c, apperror.Validation("daily_limit is not a valid amount"))
		return
	}
	perTxn, err := parseOptionalAmount(req.TransactionLimit)
	if err != nil {
		response.Error(c, apperror.Validation("transaction_limit is not a valid amount"))
		return
	}

	card, err := h.cardSvc.Issue(c.Request.Context(), principal, ports.IssueCardRequest{
		InitialBalance:   initial,
		DailyLimit:       daily,
		TransactionLimit: perTxn,
		ExpiryDate:       req.ExpiryDate,
		Metadata:         req.Metadata,
		IPAddress:        c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.IssuedCardResponse{Card: card, SecureKey: card.SecureKey})
}

// Get handles GET /api/v1/cards/:card_id.
func (h *CardHandler) Get(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	card, err := h.cardSvc.Get(c.Request.Context(), principal, c.Param("card_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// Activate handles POST /api/v1/cards/:card_id/activate.
func (h *CardHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate handles POST /api/v1/cards/:card_id/deactivate.
func (h *CardHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *CardHandler) setActive(c *gin.Context, active bool) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	card, err := h.cardSvc.SetActive(c.Request.Context(), principal, c.Param("card_id"), active)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// Block handles POST /api/v1/cards/:card_id/block. The body is optional.
func (h *CardHandler) Block(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.BlockCardRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
		dto.SanitizeStruct(&req)
	}

	card, err := h.cardSvc.Block(c.Request.Context(), principal, c.Param("card_id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// Unblock handles POST /api/v1/cards/:card_id/unblock.
func (h *CardHandler) Unblock(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	card, err := h.cardSvc.Unblock(c.Request.Context(), principal, c.Param("card_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, card)
}

// TopUp handles POST /api/v1/cards/topup.
func (h *CardHandler) TopUp(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.TopUpRequest
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

	result, err := h.coordinator.TopUp(c.Request.Context(), principal, ports.TopUpRequest{
		SecureKey:      req.SecureKey,
		CardID:         req.CardID,
		Amount:         amount,
		IdempotencyKey: c.GetHeader(middleware.HeaderIdempotencyKey),
		Description:    req.Description,
		IPAddress:      c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// CashOut handles POST /api/v1/cards/:card_id/cash-out. An empty amount pays out the whole balance.
func (h *CardHandler) CashOut(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.CashOutRequest
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

	result, err := h.coordinator.CashOut(c.Request.Context(), principal, ports.CashOutRequest{
		CardID:    c.Param("card_id"),
		Amount:    amount,
		Reason:    req.Reason,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Reconcile handles GET /api/v1/cards/:card_id/reconcile.
func (h *CardHandler) Reconcile(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	report, err := h.ledgerSvc.Replay(c.Request.Context(), principal, c.Param("card_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
