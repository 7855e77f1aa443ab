package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/freshnest/fieldops/handlers"
	"github.com/freshnest/fieldops/internal/config"
	"github.com/freshnest/fieldops/services"
)

func NewGinRouter(pg *sql.DB, redis *redis.Client) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-API-Key, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize services
	jobService := services.NewJobService(pg)
	ledgerService := services.NewLedgerService(pg, redis)
	apiKeyService := services.NewAPIKeyService(pg)
	tokenService := services.NewActionTokenService(config.App.ActionTokenSecret, config.App.OfferTimeout())
	pushService := services.NewPushService(
		config.App.FirebaseCredentialsFile,
		config.App.PushGateway.URL,
		config.App.PushGateway.APIToken,
		config.App.PushGateway.InstanceID,
	)
	smsService := services.NewSMSService(
		config.App.SMSGateway.URL,
		config.App.SMSGateway.APIToken,
		config.App.SMSGateway.FromNumber,
	)
	slackService := services.NewSlackService(config.App.SlackBotToken)
	escalationService := services.NewEscalationService(pg, jobService, ledgerService, slackService, smsService)
	cascadeService := services.NewCascadeService(pg, jobService, ledgerService, pushService,
		smsService, tokenService, escalationService, config.App.OfferTimeout())
	optimizer := services.NewHTTPRouteOptimizer(config.App.RouteOptimizer.URL, config.App.RouteOptimizer.APIToken)
	routeService := services.NewRoutePlanService(pg, jobService, ledgerService, pushService, escalationService, optimizer)
	dispatchService := services.NewDispatchService(jobService, ledgerService, cascadeService,
		routeService, config.App.IdempotencyWindow())

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(apiKeyService, jobService, ledgerService,
		dispatchService, cascadeService, tokenService)
	dispatchHandler := handlers.NewDispatchHandler(pg, jobService, ledgerService,
		dispatchService, routeService)

	// PUBLIC ENDPOINTS
	r.GET("/health", dispatchHandler.Health)

	// WEBHOOK ENDPOINTS
	// Payment webhooks authenticate per-request with the tenant API key;
	// cleaner responses authenticate through the signed action token in
	// the payload.
	webhookRoutes := r.Group("/webhooks")
	{
		webhookRoutes.POST("/payment", webhookHandler.ReceivePayment)
		webhookRoutes.POST("/cleaner-response", webhookHandler.ReceiveCleanerResponse)
	}

	// OPERATOR ENDPOINTS
	r.POST("/dispatch/:job_id", dispatchHandler.TriggerDispatch)
	r.POST("/routes/reoptimize", dispatchHandler.Reoptimize)

	jobRoutes := r.Group("/jobs")
	{
		jobRoutes.GET("/:id", dispatchHandler.GetJob)
		jobRoutes.GET("/:id/ledger", dispatchHandler.GetJobLedger)
	}

	return r
}
