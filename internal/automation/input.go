package automation

import (
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	MaxInputAttempts        = 3
	defaultInputError       = "Invalid input. Please try again."
	tooManyAttemptsResponse = "Too many invalid attempts."
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// PendingInput records that the next message of a conversation answers an
// input node.
type PendingInput struct {
	NodeID       string `json:"nodeId"`
	Variable     string `json:"variable"`
	Validation   string `json:"validation,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Failures     int    `json:"failures"`
}

// PendingInputs is the in-memory store of pending inputs keyed by bot and
// conversation.
type PendingInputs struct {
	mu      sync.Mutex
	pending map[string]PendingInput
}

func NewPendingInputs() *PendingInputs {
	return &PendingInputs{pending: make(map[string]PendingInput)}
}

func pendingKey(botID, conversationID string) string {
	return botID + "\x00" + conversationID
}

func (p *PendingInputs) Set(botID, conversationID string, in PendingInput) {
	p.mu.Lock()
	p.pending[pendingKey(botID, conversationID)] = in
	p.mu.Unlock()
}

func (p *PendingInputs) Get(botID, conversationID string) (PendingInput, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.pending[pendingKey(botID, conversationID)]
	return in, ok
}

func (p *PendingInputs) Clear(botID, conversationID string) {
	p.mu.Lock()
	delete(p.pending, pendingKey(botID, conversationID))
	p.mu.Unlock()
}

// ClearBot drops every pending input of botID.
func (p *PendingInputs) ClearBot(botID string) {
	prefix := botID + "\x00"
	p.mu.Lock()
	for k := range p.pending {
		if strings.HasPrefix(k, prefix) {
			delete(p.pending, k)
		}
	}
	p.mu.Unlock()
}

// ValidateInput checks value against a validation kind: text, email,
// number, phone or "regex:<expr>". Unknown kinds accept any non-empty value.
func ValidateInput(kind, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case lower == "" || lower == "text":
		return true
	case lower == "email":
		addr, err := mail.ParseAddress(value)
		return err == nil && addr.Address == value && strings.Contains(value[strings.LastIndex(value, "@"):], ".")
	case lower == "number":
		_, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		return err == nil
	case lower == "phone":
		return phonePattern.MatchString(strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(value))
	case strings.HasPrefix(lower, "regex:"):
		re, err := regexp.Compile(strings.TrimSpace(kind)[len("regex:"):])
		if err != nil {
			return false
		}
		return re.MatchString(value)
	default:
		return true
	}
}
