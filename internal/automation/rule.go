package automation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// TriggerKind is the predicate applied to the normalized message text.
type TriggerKind string

const (
	TriggerExact       TriggerKind = "exact"
	TriggerContains    TriggerKind = "contains"
	TriggerKeyword     TriggerKind = "keyword"
	TriggerStartsWith  TriggerKind = "starts_with"
	TriggerNotContains TriggerKind = "not_contains"
	TriggerAny         TriggerKind = "any"
)

// Trigger is the primary predicate of a rule.
type Trigger struct {
	Kind  TriggerKind `json:"kind"`
	Value string      `json:"value,omitempty"`
}

// SecondaryCondition is an extra predicate AND-ed with the trigger.
type SecondaryCondition struct {
	Kind   TriggerKind `json:"kind"`
	Value  string      `json:"value,omitempty"`
	Negate bool        `json:"negate,omitempty"`
}

// Outcome is the result of an HTTP action within a turn.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// BranchGuard restricts a rule to turns where the HTTP action of NodeID
// produced Outcome.
type BranchGuard struct {
	NodeID  string  `json:"nodeId"`
	Outcome Outcome `json:"outcome"`
}

// ActionKind mirrors the action-bearing node kinds.
type ActionKind string

const (
	ActionReply           ActionKind = "reply"
	ActionMedia           ActionKind = "media"
	ActionButtons         ActionKind = "buttons"
	ActionAI              ActionKind = "ai"
	ActionAIApi           ActionKind = "aiApi"
	ActionInput           ActionKind = "input"
	ActionHTTP            ActionKind = "http"
	ActionShowSlots       ActionKind = "showSlots"
	ActionBookAppointment ActionKind = "bookAppointment"
)

// Action is what a rule does once matched.
type Action struct {
	Kind   ActionKind `json:"kind"`
	NodeID string     `json:"nodeId"`

	Text      string   `json:"text,omitempty"`
	MediaURL  string   `json:"mediaUrl,omitempty"`
	MediaKind string   `json:"mediaKind,omitempty"`
	Caption   string   `json:"caption,omitempty"`
	Options   []string `json:"options,omitempty"`

	Prompt  string `json:"prompt,omitempty"`
	APIKey  string `json:"-"`
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`

	Variable     string `json:"variable,omitempty"`
	Validation   string `json:"validation,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	Method           string            `json:"method,omitempty"`
	URL              string            `json:"url,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	ResponseVariable string            `json:"responseVariable,omitempty"`

	ServiceID    uint   `json:"serviceId,omitempty"`
	Days         int    `json:"days,omitempty"`
	SlotVariable string `json:"slotVariable,omitempty"`
}

// CompiledRule is one flat, executable rule derived from the flow graph.
type CompiledRule struct {
	ID           string               `json:"id"`
	Trigger      Trigger              `json:"trigger"`
	Conditions   []SecondaryCondition `json:"conditions,omitempty"`
	Guards       []BranchGuard        `json:"guards,omitempty"`
	AwaitInput   string               `json:"awaitInput,omitempty"`
	Action       Action               `json:"action"`
	DelaySeconds float64              `json:"delaySeconds,omitempty"`
	Platforms    []string             `json:"platforms,omitempty"`
	Enabled      bool                 `json:"enabled"`
}

// Signature is the canonical text form of the trigger.
func (t Trigger) Signature() string {
	return string(t.Kind) + ":" + normalize(t.Value)
}

// Signature is the canonical text form of the condition.
func (c SecondaryCondition) Signature() string {
	s := string(c.Kind) + ":" + normalize(c.Value)
	if c.Negate {
		return "!" + s
	}
	return s
}

// ruleID derives a stable identifier from the trigger, the secondary
// conditions, the branch tags and the target node.
func ruleID(t Trigger, conds []SecondaryCondition, guards []BranchGuard, awaitInput, nodeID string) string {
	parts := []string{t.Signature()}
	for _, c := range conds {
		parts = append(parts, "c="+c.Signature())
	}
	for _, g := range guards {
		parts = append(parts, "g="+g.NodeID+"/"+string(g.Outcome))
	}
	if awaitInput != "" {
		parts = append(parts, "in="+awaitInput)
	}
	parts = append(parts, "n="+nodeID)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

// MatchesPlatform reports whether the rule applies to platform.
func (r CompiledRule) MatchesPlatform(platform string) bool {
	if len(r.Platforms) == 0 {
		return true
	}
	for _, p := range r.Platforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}

// SortedIDs returns the ids of rules in sorted order; used to compare rule sets.
func SortedIDs(rules []CompiledRule) []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	sort.Strings(ids)
	return ids
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
