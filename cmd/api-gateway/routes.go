package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-behavior-api/internal/handler"
	"github.com/noah-isme/sma-behavior-api/internal/middleware"
	"github.com/noah-isme/sma-behavior-api/internal/models"
	"github.com/noah-isme/sma-behavior-api/internal/service"
	"github.com/noah-isme/sma-behavior-api/pkg/config"
	"github.com/noah-isme/sma-behavior-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-behavior-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-behavior-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, tokens middleware.TokenValidator, metrics *service.MetricsService, svcs services, readiness map[string]handler.ReadinessCheck) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, readiness)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	incidents := handler.NewIncidentHandler(svcs.incidents, svcs.escalations, svcs.exports)
	cases := handler.NewCaseHandler(svcs.escalations, svcs.exports)
	acks := handler.NewAcknowledgmentHandler(svcs.acknowledgments)
	inbox := handler.NewNotificationHandler(svcs.notifications)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(tokens))

	everyone := middleware.RBAC(models.RoleAdmin, models.RoleTeacher, models.RoleExpert, models.RoleParent)
	caseStaff := middleware.RBAC(models.RoleAdmin, models.RoleExpert)
	parents := middleware.RBAC(models.RoleParent)

	api.GET("/metrics/summary", middleware.RBAC(models.RoleAdmin), metricsHandler.Summary)

	api.POST("/incidents", middleware.RBAC(models.RoleTeacher), incidents.Create)
	api.GET("/incidents/:id", everyone, incidents.Get)
	api.POST("/incidents/:id/escalate", middleware.RBAC(models.RoleAdmin, models.RoleTeacher), incidents.Escalate)
	api.GET("/students/:id/incidents", everyone, incidents.ListForStudent)
	api.GET("/students/:id/incidents/export", everyone, incidents.Export)

	api.GET("/cases", caseStaff, cases.List)
	api.GET("/cases/:id", everyone, cases.Get)
	api.GET("/cases/:id/overview", everyone, cases.Overview)
	api.GET("/cases/:id/report", middleware.Staff(), cases.Report)
	api.POST("/cases/:id/assessment", caseStaff, cases.Assess)
	api.POST("/cases/:id/monitor", caseStaff, cases.Monitor)
	api.POST("/cases/:id/incidents", caseStaff, cases.AddIncident)
	api.POST("/cases/:id/close", caseStaff, cases.Close)

	api.POST("/acknowledgments", parents, acks.Acknowledge)
	api.GET("/acknowledgments", parents, acks.Status)
	api.POST("/feedback", parents, acks.Feedback)

	api.GET("/notifications", everyone, inbox.List)
	api.GET("/notifications/unread-count", everyone, inbox.UnreadCount)
	api.POST("/notifications/read-all", everyone, inbox.MarkAllRead)
	api.POST("/notifications/:id/read", everyone, inbox.MarkRead)

	return r
}
