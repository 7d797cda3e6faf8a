package automation

import (
	"fmt"
	"sort"
	"strings"
)

// MaxDepth bounds the length of any traversal path through the graph.
const MaxDepth = 64

// CompileResult is the output of Compile.
type CompileResult struct {
	Rules    []CompiledRule `json:"rules"`
	Warnings []string       `json:"warnings,omitempty"`
}

// traversal is the state carried along one path from a trigger.
type traversal struct {
	trigger    Trigger
	conditions []SecondaryCondition
	guards     []BranchGuard
	awaitInput string
	delay      float64
	platforms  []string
	visited    map[string]bool
	depth      int
}

// continuation resumes traversal along the edges of a node whose source
// handle satisfies handle.
type continuation struct {
	handle func(string) bool
	state  traversal
}

// nodeCompiler compiles one node kind: an optional rule to emit and the
// continuations to follow.
type nodeCompiler func(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation)

var nodeCompilers = map[NodeKind]nodeCompiler{
	KindDelay:           compileDelay,
	KindCondition:       compileCondition,
	KindMessage:         compileAction(replyAction),
	KindMedia:           compileAction(mediaAction),
	KindAI:              compileAction(aiAction),
	KindAIApi:           compileAction(aiAPIAction),
	KindShowSlots:       compileAction(showSlotsAction),
	KindBookAppointment: compileAction(bookAction),
	KindInput:           compileInput,
	KindHTTP:            compileHTTP,
	KindButtons:         compileButtons,
}

// Compile flattens a flow graph into rules. It is deterministic and
// terminates on cyclic graphs.
func Compile(g FlowGraphData) CompileResult {
	c := &compiler{
		idx:     newGraphIndex(g),
		emitted: make(map[string]int),
		memo:    make(map[string]bool),
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.Type != KindTrigger || c.idx.nodes[n.ID] != n {
			continue
		}
		trig, ok := triggerOf(n)
		if !ok {
			c.warnf("trigger %s has no value, skipped", n.ID)
			continue
		}
		st := traversal{
			trigger:   trig,
			platforms: c.platformsFor(n.ID),
			visited:   map[string]bool{n.ID: true},
		}
		c.follow(n, continuation{handle: anyHandle, state: st})
	}
	return CompileResult{Rules: c.rules, Warnings: c.warnings}
}

// CompileRules is Compile without warnings.
func CompileRules(g FlowGraphData) []CompiledRule {
	return Compile(g).Rules
}

type compiler struct {
	idx      *graphIndex
	rules    []CompiledRule
	warnings []string
	emitted  map[string]int // rule id -> index in rules
	memo     map[string]bool
}

func (c *compiler) warnf(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *compiler) follow(from *ReactFlowNode, cont continuation) {
	for _, next := range c.idx.targets(from.ID, cont.handle) {
		c.visit(next, cont.state)
	}
}

func (c *compiler) visit(n *ReactFlowNode, st traversal) {
	if st.visited[n.ID] {
		c.warnf("cycle through node %s cut", n.ID)
		return
	}
	if st.depth >= MaxDepth {
		c.warnf("depth limit reached at node %s", n.ID)
		return
	}
	key := n.ID + "#" + st.signature()
	if c.memo[key] {
		return
	}
	c.memo[key] = true

	fn, ok := nodeCompilers[n.Type]
	if !ok {
		if n.Type != KindTrigger && n.Type != KindPlatformSource {
			c.warnf("node %s has unknown type %q", n.ID, n.Type)
		}
		return
	}
	st = st.enter(n.ID)
	rule, conts := fn(st, n)
	if rule != nil {
		c.emit(rule)
	}
	for _, cont := range conts {
		c.follow(n, cont)
	}
}

// emit appends rule unless a rule with the same id exists. A duplicate
// reached from another trigger widens the platform set of the first.
func (c *compiler) emit(rule *CompiledRule) {
	i, ok := c.emitted[rule.ID]
	if !ok {
		c.emitted[rule.ID] = len(c.rules)
		c.rules = append(c.rules, *rule)
		return
	}
	c.rules[i].Platforms = unionPlatforms(c.rules[i].Platforms, rule.Platforms)
}

// unionPlatforms merges two platform sets; an empty set means every platform.
func unionPlatforms(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]bool, len(a)+len(b))
	for _, p := range append(append([]string(nil), a...), b...) {
		set[p] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// platformsFor collects the platforms of the source nodes wired into a trigger.
func (c *compiler) platformsFor(triggerID string) []string {
	set := map[string]bool{}
	for _, e := range c.idx.incoming[triggerID] {
		src, ok := c.idx.nodes[e.Source]
		if !ok || src.Type != KindPlatformSource {
			continue
		}
		if p := normalize(src.Data.Platform); p != "" {
			set[p] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (st traversal) enter(id string) traversal {
	visited := make(map[string]bool, len(st.visited)+1)
	for k := range st.visited {
		visited[k] = true
	}
	visited[id] = true
	st.visited = visited
	st.depth++
	return st
}

func (st traversal) withCondition(c SecondaryCondition) traversal {
	st.conditions = append(append([]SecondaryCondition(nil), st.conditions...), c)
	return st
}

func (st traversal) withGuard(g BranchGuard) traversal {
	st.guards = append(append([]BranchGuard(nil), st.guards...), g)
	return st
}

// restart begins a new rule family sharing only platforms and path.
func (st traversal) restart(t Trigger, awaitInput string) traversal {
	return traversal{
		trigger:    t,
		awaitInput: awaitInput,
		platforms:  st.platforms,
		visited:    st.visited,
		depth:      st.depth,
	}
}

func (st traversal) signature() string {
	parts := []string{st.trigger.Signature()}
	for _, c := range st.conditions {
		parts = append(parts, c.Signature())
	}
	for _, g := range st.guards {
		parts = append(parts, g.NodeID+"/"+string(g.Outcome))
	}
	parts = append(parts, st.awaitInput, fmt.Sprintf("%g", st.delay), strings.Join(st.platforms, ","))
	return strings.Join(parts, "|")
}

func (st traversal) rule(a Action) *CompiledRule {
	r := &CompiledRule{
		ID:           ruleID(st.trigger, st.conditions, st.guards, st.awaitInput, a.NodeID),
		Trigger:      st.trigger,
		Conditions:   append([]SecondaryCondition(nil), st.conditions...),
		Guards:       append([]BranchGuard(nil), st.guards...),
		AwaitInput:   st.awaitInput,
		Action:       a,
		DelaySeconds: st.delay,
		Platforms:    append([]string(nil), st.platforms...),
		Enabled:      true,
	}
	if len(r.Conditions) == 0 {
		r.Conditions = nil
	}
	if len(r.Guards) == 0 {
		r.Guards = nil
	}
	if len(r.Platforms) == 0 {
		r.Platforms = nil
	}
	return r
}

func anyHandle(string) bool { return true }

func compileDelay(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
	if n.Data.Seconds > 0 {
		st.delay += n.Data.Seconds
	}
	return nil, []continuation{{handle: anyHandle, state: st}}
}

func compileCondition(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
	kind := parseTriggerKind(n.Data.ConditionType)
	value := n.Data.ConditionValue
	if value == "" {
		value = n.Data.Value
	}
	if kind != TriggerAny && strings.TrimSpace(value) == "" {
		return nil, nil
	}
	yes := SecondaryCondition{Kind: kind, Value: value}
	no := SecondaryCondition{Kind: kind, Value: value, Negate: true}
	return nil, []continuation{
		{handle: handleIs(HandleYes, "true"), state: st.withCondition(yes)},
		{handle: handleIs(HandleNo, "false"), state: st.withCondition(no)},
	}
}

// compileAction emits a rule for the node and continues downstream.
func compileAction(build func(n *ReactFlowNode) Action) nodeCompiler {
	return func(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
		rule := st.rule(build(n))
		st.delay = 0
		return rule, []continuation{{handle: anyHandle, state: st}}
	}
}

func compileInput(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
	rule := st.rule(inputAction(n))
	next := st.restart(Trigger{Kind: TriggerAny}, n.ID)
	return rule, []continuation{{handle: anyHandle, state: next}}
}

func compileHTTP(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
	rule := st.rule(httpAction(n))
	st.delay = 0
	return rule, []continuation{
		{handle: handleIs(HandleSuccess), state: st.withGuard(BranchGuard{NodeID: n.ID, Outcome: OutcomeSuccess})},
		{handle: handleIs(HandleError), state: st.withGuard(BranchGuard{NodeID: n.ID, Outcome: OutcomeError})},
		{handle: isDefaultHandle, state: st},
	}
}

// compileButtons emits the menu rule and, for the i-th button, two rule
// families triggered by the button text and by its number.
func compileButtons(st traversal, n *ReactFlowNode) (*CompiledRule, []continuation) {
	rule := st.rule(buttonsAction(n))
	var conts []continuation
	shown := 0
	for i, b := range n.Data.Buttons {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		// Handles follow the editor index; numbers follow the rendered menu.
		shown++
		handle := ButtonHandle(i)
		match := func(h string) bool { return h == handle || isDefaultHandle(h) }
		for _, t := range []Trigger{
			{Kind: TriggerExact, Value: b.Text},
			{Kind: TriggerExact, Value: itoa(shown)},
		} {
			conts = append(conts, continuation{handle: match, state: st.restart(t, "")})
		}
	}
	return rule, conts
}

// triggerOf reads the trigger of a trigger node; ok is false when a
// non-any trigger has no value.
func triggerOf(n *ReactFlowNode) (Trigger, bool) {
	kind := parseTriggerKind(n.Data.TriggerType)
	value := strings.TrimSpace(n.Data.Value)
	if kind == TriggerAny {
		return Trigger{Kind: TriggerAny}, true
	}
	if value == "" {
		return Trigger{}, false
	}
	return Trigger{Kind: kind, Value: value}, true
}

func parseTriggerKind(s string) TriggerKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact", "equals", "equal":
		return TriggerExact
	case "", "contains":
		return TriggerContains
	case "keyword":
		return TriggerKeyword
	case "starts_with", "startswith", "starts-with":
		return TriggerStartsWith
	case "not_contains", "notcontains", "not-contains":
		return TriggerNotContains
	case "any", "all", "*":
		return TriggerAny
	default:
		return TriggerKind(strings.ToLower(strings.TrimSpace(s)))
	}
}

func replyAction(n *ReactFlowNode) Action {
	return Action{Kind: ActionReply, NodeID: n.ID, Text: n.Data.Text, MediaURL: n.Data.MediaURL}
}

func mediaAction(n *ReactFlowNode) Action {
	kind := strings.ToLower(n.Data.MediaType)
	if kind == "" {
		kind = "image"
	}
	return Action{Kind: ActionMedia, NodeID: n.ID, MediaKind: kind, MediaURL: n.Data.MediaURL, Caption: n.Data.Caption}
}

func buttonsAction(n *ReactFlowNode) Action {
	opts := make([]string, 0, len(n.Data.Buttons))
	for _, b := range n.Data.Buttons {
		if strings.TrimSpace(b.Text) != "" {
			opts = append(opts, b.Text)
		}
	}
	return Action{Kind: ActionButtons, NodeID: n.ID, Text: n.Data.Text, Options: opts}
}

func aiAction(n *ReactFlowNode) Action {
	return Action{Kind: ActionAI, NodeID: n.ID, Prompt: n.Data.Prompt}
}

func aiAPIAction(n *ReactFlowNode) Action {
	return Action{
		Kind:    ActionAIApi,
		NodeID:  n.ID,
		Prompt:  n.Data.Prompt,
		APIKey:  n.Data.APIKey,
		BaseURL: n.Data.BaseURL,
		Model:   n.Data.Model,
	}
}

func inputAction(n *ReactFlowNode) Action {
	return Action{
		Kind:         ActionInput,
		NodeID:       n.ID,
		Text:         n.Data.Text,
		Variable:     n.Data.Variable,
		Validation:   n.Data.Validation,
		ErrorMessage: n.Data.ErrorMessage,
	}
}

func httpAction(n *ReactFlowNode) Action {
	method := strings.ToUpper(n.Data.Method)
	if method == "" {
		method = "GET"
	}
	return Action{
		Kind:             ActionHTTP,
		NodeID:           n.ID,
		Method:           method,
		URL:              n.Data.URL,
		Headers:          n.Data.Headers,
		Body:             n.Data.Body,
		ResponseVariable: n.Data.ResponseVariable,
	}
}

func showSlotsAction(n *ReactFlowNode) Action {
	return Action{Kind: ActionShowSlots, NodeID: n.ID, ServiceID: n.Data.ServiceID, Days: n.Data.Days, Text: n.Data.Text}
}

func bookAction(n *ReactFlowNode) Action {
	return Action{Kind: ActionBookAppointment, NodeID: n.ID, ServiceID: n.Data.ServiceID, SlotVariable: n.Data.SlotVariable, Text: n.Data.Text}
}
