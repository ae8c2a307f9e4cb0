package handler

import (
	"prepaid-card-ledger/internal/adapter/http/dto"
	"prepaid-card-ledger/internal/core/domain"
	"prepaid-card-ledger/internal/core/ports"
	"prepaid-card-ledger/pkg/apperror"
	"prepaid-card-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// OutletHandler handles outlets, their dashboards and settlements.
type OutletHandler struct {
	outletSvc     ports.OutletService
	settlementSvc ports.SettlementService
}

// NewOutletHandler creates a new OutletHandler.
func NewOutletHandler(outletSvc ports.OutletService, settlementSvc ports.SettlementService) *OutletHandler {
	return &OutletHandler{outletSvc: outletSvc, settlementSvc: settlementSvc}
}

// Register handles POST /api/v1/outlets.
func (h *OutletHandler) Register(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	var req dto.RegisterOutletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	outlet, err := h.outletSvc.Register(c.Request.Context(), principal, ports.RegisterOutletRequest{
		Name:         req.Name,
		BusinessType: domain.BusinessType(req.BusinessType),
		Address:      req.Address,
		TaxID:        req.TaxID,
		IPAddress:    c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, outlet)
}

// List handles GET /api/v1/outlets.
func (h *OutletHandler) List(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}

	outlets, err := h.outletSvc.List(c.Request.Context(), principal)
	if err != nil {
		response.Error(c, err)
		return
	}
	if outlets == nil {
		outlets = []domain.Outlet{}
	}
	response.OK(c, outlets)
}

// Get handles GET /api/v1/outlets/:id.
func (h *OutletHandler) Get(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Outlet")
	if !ok {
		return
	}

	outlet, err := h.outletSvc.Get(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, outlet)
}

// Summary handles GET /api/v1/outlets/:id/summary.
func (h *OutletHandler) Summary(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Outlet")
	if !ok {
		return
	}

	summary, err := h.outletSvc.Summary(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, summary)
}

// Today handles GET /api/v1/outlets/:id/today.
func (h *OutletHandler) Today(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Outlet")
	if !ok {
		return
	}

	today, err := h.outletSvc.Today(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, today)
}

// Settle handles POST /api/v1/outlets/:id/settlements. With nothing pending
// it answers 200 and no settlement is created.
func (h *OutletHandler) Settle(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Outlet")
	if !ok {
		return
	}

	result, err := h.settlementSvc.SettleOutlet(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.NoPendingTransactions {
		response.OK(c, result)
		return
	}
	response.Created(c, result)
}

// ListSettlements handles GET /api/v1/outlets/:id/settlements.
func (h *OutletHandler) ListSettlements(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Outlet")
	if !ok {
		return
	}

	settlements, err := h.settlementSvc.List(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if settlements == nil {
		settlements = []domain.Settlement{}
	}
	response.OK(c, settlements)
}

// GetSettlement handles GET /api/v1/settlements/:id.
func (h *OutletHandler) GetSettlement(c *gin.Context) {
	principal, ok := actor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id", "Settlement")
	if !ok {
		return
	}

	settlement, err := h.settlementSvc.Get(c.Request.Context(), principal, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settlement)
}
