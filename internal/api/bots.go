package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

type BotHandler struct {
	Store    *database.Store
	Sessions *session.Manager
}

func NewBotHandler(store *database.Store, sessions *session.Manager) *BotHandler {
	return &BotHandler{Store: store, Sessions: sessions}
}

// ListBots returns every bot with its live session status
func (h *BotHandler) ListBots(c *gin.Context) {
	bots, err := h.Store.ListBots(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type botView struct {
		ID       string         `json:"id"`
		Name     string         `json:"name"`
		Platform string         `json:"platform"`
		Status   session.Status `json:"status"`
		DeviceID string         `json:"device_id,omitempty"`
	}
	out := make([]botView, 0, len(bots))
	for _, b := range bots {
		snap := h.Sessions.Status(b.ID)
		out = append(out, botView{
			ID:       b.ID,
			Name:     b.Name,
			Platform: b.Platform,
			Status:   snap.Status,
			DeviceID: snap.DeviceID,
		})
	}
	c.JSON(http.StatusOK, out)
}

// CreateBot registers a new bot; connecting it is a separate call
func (h *BotHandler) CreateBot(c *gin.Context) {
	var req database.NewBot
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bot, err := h.Store.CreateBot(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, bot)
}

// GetStatus returns the session snapshot, including the QR code while pairing
func (h *BotHandler) GetStatus(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	snap := h.Sessions.Status(bot.ID)
	snap.Platform = transport.Platform(bot.Platform)
	c.JSON(http.StatusOK, gin.H{
		"session":      snap,
		"reconnecting": h.Sessions.Reconnecting(bot.ID),
	})
}

// Connect starts (or returns) the bot's session
func (h *BotHandler) Connect(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}

	s, err := h.Sessions.Connect(c.Request.Context(), bot.ID, database.SessionOptions(*bot))
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, session.ErrUnknownPlatform) {
			status = http.StatusBadRequest
		} else if errors.Is(err, session.ErrShutdown) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, s.Snapshot())
}

// Logout unlinks the device and deletes the stored credentials
func (h *BotHandler) Logout(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}

	if err := h.Sessions.Logout(c.Request.Context(), bot.ID, transport.Platform(bot.Platform)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}
