package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/logger"
	"chatflow-gateway/internal/models"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/ws"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Store    *database.Store
	Sessions *session.Manager
	Rules    *automation.RuleCache
	Pending  *automation.PendingInputs
	Hub      *ws.Hub
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	bots := NewBotHandler(d.Store, d.Sessions)
	flows := NewFlowHandler(d.Store, d.Rules, d.Pending)
	leads := NewLeadHandler(d.Store, d.Sessions)
	automationHandler := NewAutomationHandler(d.Store)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Hub != nil {
		r.GET("/ws", d.Hub.Handler)
	}

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/bots", bots.ListBots)
		apiGroup.POST("/bots", bots.CreateBot)

		botGroup := apiGroup.Group("/bots/:botId")
		{
			botGroup.GET("/status", bots.GetStatus)
			botGroup.POST("/connect", bots.Connect)
			botGroup.POST("/logout", bots.Logout)

			botGroup.GET("/flow", flows.GetFlow)
			botGroup.PUT("/flow", flows.PublishFlow)
			botGroup.GET("/rules", flows.GetRules)

			botGroup.GET("/leads", leads.ListLeads)
			botGroup.GET("/leads/:leadId/messages", leads.GetMessages)
			botGroup.POST("/leads/:leadId/messages", leads.SendMessage)

			botGroup.GET("/automation/logs", automationHandler.GetLogs)
		}

		apiGroup.GET("/settings", automationHandler.GetSettings)
		apiGroup.PUT("/settings", automationHandler.UpdateSetting)
	}
	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger tags the request context with the bot id and logs the outcome.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		if botID := c.Param("botId"); botID != "" {
			ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{BotID: botID})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()

		slog.DebugContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func loadBot(c *gin.Context, store *database.Store) (*models.Bot, bool) {
	bot, err := store.FindBot(c.Request.Context(), c.Param("botId"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bot not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return bot, true
}
