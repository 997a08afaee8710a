package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/docgen_server/config"
	"github.com/qs3c/docgen_server/internal/api/handler"
	"github.com/qs3c/docgen_server/internal/api/middleware"
)

type Router struct {
	jobHandler        *handler.JobHandler
	repositoryHandler *handler.RepositoryHandler
	providersHandler  *handler.ProvidersHandler
	webhookHandler    *handler.WebhookHandler
	websocketHandler  *handler.WebSocketHandler
	cfg               *config.Config
}

func NewRouter(
	jobHandler *handler.JobHandler,
	repositoryHandler *handler.RepositoryHandler,
	providersHandler *handler.ProvidersHandler,
	webhookHandler *handler.WebhookHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		jobHandler:        jobHandler,
		repositoryHandler: repositoryHandler,
		providersHandler:  providersHandler,
		webhookHandler:    webhookHandler,
		websocketHandler:  websocketHandler,
		cfg:               cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口
		api.GET("/providers", r.providersHandler.List)

		// 仓库事件，签名校验代替登录
		webhooks := api.Group("/webhooks")
		webhooks.Use(middleware.Signature(r.cfg.Webhook.Secret))
		{
			webhooks.POST("/github", r.webhookHandler.GitHub)
		}

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			jobs := authenticated.Group("/jobs")
			{
				jobs.POST("", r.jobHandler.Submit)
				jobs.GET("", r.jobHandler.List)
				jobs.GET("/:id", r.jobHandler.Get)
				jobs.POST("/:id/cancel", r.jobHandler.Cancel)
				jobs.POST("/:id/retry", r.jobHandler.Retry)
				jobs.GET("/:id/events", r.jobHandler.Events)
			}

			repositories := authenticated.Group("/repositories")
			{
				repositories.POST("", r.repositoryHandler.Connect)
				repositories.GET("", r.repositoryHandler.List)
				repositories.PUT("/:id/webhook", r.repositoryHandler.SetWebhook)
			}
		}
	}

	return engine
}
