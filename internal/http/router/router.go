package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/helper-escrow/internal/config"
	"github.com/ignatzorin/helper-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/helper-escrow/internal/http/handlers"
	"github.com/ignatzorin/helper-escrow/internal/http/middleware"
)

// Handlers все хэндлеры HTTP API.
type Handlers struct {
	Requests    *handlers.RequestHandler
	Payments    *handlers.PaymentHandler
	Webhooks    *handlers.WebhookHandler
	Admin       *handlers.AdminHandler
	Dashboards  *handlers.DashboardHandler
	Withdrawals *handlers.WithdrawalHandler
	Health      *handlers.HealthHandler
	WS          *handlers.WSHandler
}

func SetupRouter(
	cfg *config.Config,
	h Handlers,
	tokens middleware.TokenVerifier,
	limiterStore limiter.Store,
) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// Провайдеры подтверждают оплату без токена, подлинность проверяется подписью.
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/card", h.Webhooks.Card)
		webhooks.POST("/regional", h.Webhooks.Regional)
	}
	api.GET("/ws", h.WS.Handle)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokens))

	requests := protected.Group("/requests")
	{
		requests.POST("", h.Requests.Create)
		requests.GET("", h.Requests.List)

		item := requests.Group("/:id", middleware.UUIDValidator("id"))
		item.GET("", h.Requests.Get)
		item.GET("/history", h.Requests.History)
		item.GET("/actions", h.Requests.Actions)
		item.POST("/accept", h.Requests.Accept)
		item.POST("/decline", h.Requests.Decline)
		item.POST("/start", h.Requests.Start)
		item.POST("/complete", h.Requests.Complete)
		item.POST("/confirm", h.Requests.Confirm)
		item.POST("/cancel", h.Requests.Cancel)
		item.POST("/dispute", h.Requests.Dispute)
		item.POST("/relist", h.Requests.Relist)
		item.POST("/view", h.Requests.View)

		pay := item.Group("/payment")
		pay.Use(middleware.RateLimitMiddleware(limiterStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))
		pay.GET("", h.Payments.Get)
		pay.POST("/intent", h.Payments.CreateIntent)
		pay.POST("/confirm", h.Payments.Confirm)
		pay.POST("/verify", h.Payments.Verify)
		pay.POST("/receipt", h.Payments.UploadReceipt)
	}

	helper := protected.Group("/")
	helper.Use(middleware.RequireRole(valueobject.RoleHelper))
	{
		helper.GET("/helper/dashboard", h.Dashboards.Helper)
		helper.POST("/withdrawals", h.Withdrawals.Create)
		helper.GET("/withdrawals", h.Withdrawals.List)
	}

	requester := protected.Group("/requester")
	requester.Use(middleware.RequireRole(valueobject.RoleRequester))
	requester.GET("/dashboard", h.Dashboards.Requester)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(valueobject.RoleAdmin))
	{
		admin.POST("/requests/:id/payment/release", middleware.UUIDValidator("id"), h.Admin.Release)
		admin.POST("/requests/:id/payment/refund", middleware.UUIDValidator("id"), h.Admin.Refund)
		admin.POST("/requests/:id/dispute/resolve", middleware.UUIDValidator("id"), h.Admin.ResolveDispute)
		admin.POST("/reconcile", h.Admin.Reconcile)
		admin.GET("/dashboard", h.Dashboards.Admin)
		admin.POST("/withdrawals/:id/process", middleware.UUIDValidator("id"), h.Withdrawals.Process)
	}

	return r
}
