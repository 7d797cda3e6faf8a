package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/database"
)

type FlowHandler struct {
	Store   *database.Store
	Rules   *automation.RuleCache
	Pending *automation.PendingInputs
}

func NewFlowHandler(store *database.Store, rules *automation.RuleCache, pending *automation.PendingInputs) *FlowHandler {
	return &FlowHandler{Store: store, Rules: rules, Pending: pending}
}

// GetFlow returns the stored editor graph of a bot
func (h *FlowHandler) GetFlow(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}

	graph, err := h.Store.LoadGraph(c.Request.Context(), bot.ID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusOK, automation.FlowGraphData{Nodes: []automation.ReactFlowNode{}, Edges: []automation.ReactFlowEdge{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, graph)
}

// PublishFlow stores the graph, compiles it and swaps the live rule set
func (h *FlowHandler) PublishFlow(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}

	var req struct {
		Name  string                     `json:"name"`
		Nodes []automation.ReactFlowNode `json:"nodes" binding:"required"`
		Edges []automation.ReactFlowEdge `json:"edges"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	graph := automation.FlowGraphData{Nodes: req.Nodes, Edges: req.Edges}

	if err := h.Store.SaveGraph(c.Request.Context(), bot.ID, req.Name, graph); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	res := h.Rules.Publish(bot.ID, graph)
	// Pending inputs point at nodes of the previous graph.
	h.Pending.ClearBot(bot.ID)

	slog.InfoContext(c.Request.Context(), "flow published",
		"bot_id", bot.ID, "rules", len(res.Rules), "warnings", len(res.Warnings))
	c.JSON(http.StatusOK, gin.H{
		"rules":    len(res.Rules),
		"warnings": res.Warnings,
	})
}

// GetRules lists the compiled rules currently served for a bot
func (h *FlowHandler) GetRules(c *gin.Context) {
	bot, ok := loadBot(c, h.Store)
	if !ok {
		return
	}
	rules := h.Rules.Get(bot.ID)
	if rules == nil {
		rules = []automation.CompiledRule{}
	}
	c.JSON(http.StatusOK, rules)
}
