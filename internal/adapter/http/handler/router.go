package handler

import (
	"prepaid-card-ledger/internal/adapter/http/middleware"
	redisStore "prepaid-card-ledger/internal/adapter/storage/redis"
	"prepaid-card-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	CardSvc        ports.CardService
	Coordinator    ports.BalanceCoordinator
	LedgerSvc      ports.LedgerService
	OutletSvc      ports.OutletService
	SettlementSvc  ports.SettlementService
	AnalyticsSvc   ports.AnalyticsService
	AuditSvc       ports.AuditService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditDenied(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/auth/login", rl("auth_login"), authHandler.Login)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	cardHandler := NewCardHandler(deps.CardSvc, deps.Coordinator, deps.LedgerSvc)
	txnHandler := NewTransactionHandler(deps.Coordinator, deps.LedgerSvc)
	outletHandler := NewOutletHandler(deps.OutletSvc, deps.SettlementSvc)
	adminHandler := NewAdminHandler(deps.AnalyticsSvc, deps.AuditSvc)

	cards := v1.Group("/cards", jwtAuth)
	{
		cards.POST("", rl("cards"), cardHandler.Issue)
		cards.POST("/topup", rl("topup"), cardHandler.TopUp)
		cards.GET("/:card_id", rl("reads"), cardHandler.Get)
		cards.POST("/:card_id/activate", rl("cards"), cardHandler.Activate)
		cards.POST("/:card_id/deactivate", rl("cards"), cardHandler.Deactivate)
		cards.POST("/:card_id/block", rl("cards"), cardHandler.Block)
		cards.POST("/:card_id/unblock", rl("cards"), cardHandler.Unblock)
		cards.POST("/:card_id/cash-out", rl("corrections"), cardHandler.CashOut)
		cards.GET("/:card_id/reconcile", rl("reads"), cardHandler.Reconcile)
	}

	v1.POST("/payments", jwtAuth, rl("payments"), txnHandler.Pay)

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("", rl("reads"), txnHandler.History)
		transactions.GET("/:id", rl("reads"), txnHandler.Get)
		transactions.POST("/:id/refund", rl("corrections"), txnHandler.Refund)
		transactions.POST("/:id/reverse", rl("corrections"), txnHandler.Reverse)
	}

	outlets := v1.Group("/outlets", jwtAuth)
	{
		outlets.POST("", rl("admin"), outletHandler.Register)
		outlets.GET("", rl("reads"), outletHandler.List)
		outlets.GET("/:id", rl("reads"), outletHandler.Get)
		outlets.GET("/:id/summary", rl("reads"), outletHandler.Summary)
		outlets.GET("/:id/today", rl("reads"), outletHandler.Today)
		outlets.POST("/:id/settlements", rl("settlements"), outletHandler.Settle)
		outlets.GET("/:id/settlements", rl("reads"), outletHandler.ListSettlements)
	}

	v1.GET("/settlements/:id", jwtAuth, rl("reads"), outletHandler.GetSettlement)

	adminGroup := v1.Group("/admin", jwtAuth, rl("admin"))
	{
		adminGroup.GET("/analytics", adminHandler.Analytics)
		adminGroup.GET("/audit", adminHandler.AuditLogs)
		adminGroup.POST("/operators", authHandler.CreateOperator)
	}

	return r
}
