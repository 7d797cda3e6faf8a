package automation_test

import (
	"context"
	"errors"

	"chatflow-gateway/internal/automation"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type memGraphs map[string]automation.FlowGraphData

func (m memGraphs) FlowBots(context.Context) ([]string, error) {
	return []string{"bot-a", "bot-b", "bot-broken"}, nil
}

func (m memGraphs) LoadGraph(_ context.Context, botID string) (automation.FlowGraphData, error) {
	g, ok := m[botID]
	if !ok {
		return automation.FlowGraphData{}, errors.New("not found")
	}
	return g, nil
}

var _ = Describe("RuleCache", func() {
	greeting := automation.FlowGraphData{
		Nodes: []automation.ReactFlowNode{
			{ID: "t", Type: automation.KindTrigger, Data: automation.ReactFlowNodeData{TriggerType: "contains", Value: "hi"}},
			{ID: "m", Type: automation.KindMessage, Data: automation.ReactFlowNodeData{Text: "hello"}},
		},
		Edges: []automation.ReactFlowEdge{{ID: "e", Source: "t", Target: "m"}},
	}

	It("returns a copy-on-write snapshot per bot", func() {
		c := automation.NewRuleCache()
		res := c.Publish("bot-a", greeting)
		Expect(res.Rules).To(HaveLen(1))

		before := c.Get("bot-a")
		c.Publish("bot-a", automation.FlowGraphData{})
		Expect(before).To(HaveLen(1))
		Expect(c.Get("bot-a")).To(BeEmpty())

		c.Delete("bot-a")
		Expect(c.Get("bot-a")).To(BeNil())
	})

	It("warms every loadable stored graph", func() {
		c := automation.NewRuleCache()
		n, err := c.Warm(context.Background(), memGraphs{"bot-a": greeting, "bot-b": {}})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(c.Get("bot-a")).To(HaveLen(1))
		Expect(c.Get("bot-broken")).To(BeNil())
	})
})
