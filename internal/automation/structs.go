package automation

import (
	"fmt"
	"strings"
)

// NodeKind is the React-Flow node type emitted by the flow editor.
type NodeKind string

const (
	KindPlatformSource  NodeKind = "platformSource"
	KindTrigger         NodeKind = "trigger"
	KindCondition       NodeKind = "condition"
	KindDelay           NodeKind = "delay"
	KindMessage         NodeKind = "message"
	KindMedia           NodeKind = "media"
	KindButtons         NodeKind = "buttons"
	KindAI              NodeKind = "ai"
	KindAIApi           NodeKind = "aiApi"
	KindInput           NodeKind = "input"
	KindHTTP            NodeKind = "http"
	KindShowSlots       NodeKind = "showSlots"
	KindBookAppointment NodeKind = "bookAppointment"
)

// Edge handles understood by the compiler.
const (
	HandleYes     = "yes"
	HandleNo      = "no"
	HandleSuccess = "success"
	HandleError   = "error"
)

// ReactFlowNode represents a node in React-Flow
type ReactFlowNode struct {
	ID       string             `json:"id"`
	Type     NodeKind           `json:"type"`
	Position map[string]float64 `json:"position,omitempty"`
	Data     ReactFlowNodeData  `json:"data"`
}

// ReactFlowNodeData is the data property of a node. Every node kind reads
// the subset of fields it needs.
type ReactFlowNodeData struct {
	Label string `json:"label,omitempty"`

	// platformSource
	Platform string `json:"platform,omitempty"`

	// trigger / condition
	TriggerType    string `json:"triggerType,omitempty"`
	Value          string `json:"value,omitempty"`
	ConditionType  string `json:"conditionType,omitempty"`
	ConditionValue string `json:"conditionValue,omitempty"`

	// delay
	Seconds float64 `json:"seconds,omitempty"`

	// message / media / buttons / input
	Text      string         `json:"text,omitempty"`
	MediaURL  string         `json:"mediaUrl,omitempty"`
	MediaType string         `json:"mediaType,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Buttons   []ButtonOption `json:"buttons,omitempty"`

	// ai / aiApi
	Prompt  string `json:"prompt,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`

	// input
	Variable     string `json:"variable,omitempty"`
	Validation   string `json:"validation,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	// http
	Method           string            `json:"method,omitempty"`
	URL              string            `json:"url,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	ResponseVariable string            `json:"responseVariable,omitempty"`

	// showSlots / bookAppointment
	ServiceID    uint   `json:"serviceId,omitempty"`
	Days         int    `json:"days,omitempty"`
	SlotVariable string `json:"slotVariable,omitempty"`
}

// ButtonOption is one entry of a buttons node.
type ButtonOption struct {
	Text string `json:"text"`
}

// ReactFlowEdge represents an edge connection
type ReactFlowEdge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// FlowGraphData is the graph of one bot as authored in the editor.
type FlowGraphData struct {
	Nodes []ReactFlowNode `json:"nodes"`
	Edges []ReactFlowEdge `json:"edges"`
}

// ButtonHandle is the source handle of the i-th (0-based) button branch.
func ButtonHandle(i int) string {
	return fmt.Sprintf("button-%d", i)
}

// index builds lookup tables over a graph.
type graphIndex struct {
	nodes    map[string]*ReactFlowNode
	outgoing map[string][]ReactFlowEdge
	incoming map[string][]ReactFlowEdge
}

func newGraphIndex(g FlowGraphData) *graphIndex {
	idx := &graphIndex{
		nodes:    make(map[string]*ReactFlowNode, len(g.Nodes)),
		outgoing: make(map[string][]ReactFlowEdge),
		incoming: make(map[string][]ReactFlowEdge),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := idx.nodes[n.ID]; dup {
			continue
		}
		idx.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		idx.outgoing[e.Source] = append(idx.outgoing[e.Source], e)
		idx.incoming[e.Target] = append(idx.incoming[e.Target], e)
	}
	return idx
}

// targets returns the nodes reached from source through edges whose handle
// satisfies match, in edge order.
func (idx *graphIndex) targets(source string, match func(handle string) bool) []*ReactFlowNode {
	var out []*ReactFlowNode
	for _, e := range idx.outgoing[source] {
		if !match(e.SourceHandle) {
			continue
		}
		if n, ok := idx.nodes[e.Target]; ok {
			out = append(out, n)
		}
	}
	return out
}

func isDefaultHandle(h string) bool {
	return h == "" || h == "default" || strings.HasSuffix(h, "-default")
}

func handleIs(names ...string) func(string) bool {
	return func(h string) bool {
		for _, n := range names {
			if strings.EqualFold(h, n) {
				return true
			}
		}
		return false
	}
}
