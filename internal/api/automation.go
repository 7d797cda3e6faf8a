package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/database"
)

type AutomationHandler struct {
	Store *database.Store
}

func NewAutomationHandler(store *database.Store) *AutomationHandler {
	return &AutomationHandler{Store: store}
}

// GetLogs returns automation execution logs
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	logs, err := h.Store.ListAutomationLogs(c.Request.Context(), bot.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// GetSettings returns all system settings
func (h *AutomationHandler) GetSettings(c *gin.Context) {
	settings, err := h.Store.ListSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSetting updates a specific system setting
func (h *AutomationHandler) UpdateSetting(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.SaveSetting(c.Request.Context(), req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Setting updated successfully. Please restart server for some changes to take effect."})
}
