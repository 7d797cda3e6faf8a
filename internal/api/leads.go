package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/domain"
	"chatflow-gateway/internal/models"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

type LeadHandler struct {
	Store    *database.Store
	Sessions *session.Manager
}

func NewLeadHandler(store *database.Store, sessions *session.Manager) *LeadHandler {
	return &LeadHandler{Store: store, Sessions: sessions}
}

func (h *LeadHandler) ListLeads(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	leads, err := h.Store.ListLeads(c.Request.Context(), bot.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, leads)
}

func (h *LeadHandler) GetMessages(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	leadID, ok := leadParam(c)
	if !ok {
		return
	}

	msgs, err := h.Store.ListMessages(c.Request.Context(), bot.ID, leadID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

type SendRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage lets an operator answer a lead through the bot's live session.
func (h *LeadHandler) SendMessage(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	leadID, ok := leadParam(c)
	if !ok {
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	lead, err := h.Store.FindLead(ctx, bot.ID, leadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lead not found"})
		return
	}
	var sender transport.Sender
	if s, ok := h.Sessions.Get(bot.ID); ok {
		sender = s.Sender()
	}
	if sender == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Bot is not connected"})
		return
	}

	if err := sender.SendText(ctx, lead.ConversationID, req.Content); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		return
	}
	if err := h.Store.AppendMessage(ctx, lead.ID, req.Content, domain.DirectionOut); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Message sent"})
}

func leadParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("leadId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lead id"})
		return 0, false
	}
	return uint(id), true
}
