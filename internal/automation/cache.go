package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// RuleCache holds the compiled rules of every bot.
type RuleCache struct {
	mu    sync.RWMutex
	rules map[string][]CompiledRule
}

func NewRuleCache() *RuleCache {
	return &RuleCache{rules: make(map[string][]CompiledRule)}
}

// Set replaces the rules of botID.
func (c *RuleCache) Set(botID string, rules []CompiledRule) {
	cp := append([]CompiledRule(nil), rules...)
	c.mu.Lock()
	c.rules[botID] = cp
	c.mu.Unlock()
}

// Get returns the rules of botID. The slice must not be modified.
func (c *RuleCache) Get(botID string) []CompiledRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rules[botID]
}

func (c *RuleCache) Delete(botID string) {
	c.mu.Lock()
	delete(c.rules, botID)
	c.mu.Unlock()
}

// Publish compiles g, caches the result for botID and returns it.
func (c *RuleCache) Publish(botID string, g FlowGraphData) CompileResult {
	res := Compile(g)
	c.Set(botID, res.Rules)
	return res
}

// GraphSource lists the stored graphs of all bots.
type GraphSource interface {
	FlowBots(ctx context.Context) ([]string, error)
	LoadGraph(ctx context.Context, botID string) (FlowGraphData, error)
}

// Warm compiles every stored graph into the cache and returns the number of
// bots loaded. A graph that fails to load is logged and skipped.
func (c *RuleCache) Warm(ctx context.Context, src GraphSource) (int, error) {
	bots, err := src.FlowBots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list flows: %w", err)
	}
	loaded := 0
	for _, botID := range bots {
		g, err := src.LoadGraph(ctx, botID)
		if err != nil {
			slog.WarnContext(ctx, "skipping flow", "bot_id", botID, "error", err)
			continue
		}
		res := c.Publish(botID, g)
		for _, w := range res.Warnings {
			slog.WarnContext(ctx, "flow compile warning", "bot_id", botID, "warning", w)
		}
		loaded++
	}
	return loaded, nil
}
