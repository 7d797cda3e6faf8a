package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Config selects an OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Model is a chat model that supports tool calling.
type Model interface {
	ChatWithTools(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// ModelFactory builds a Model from caller supplied credentials.
type ModelFactory func(cfg Config) (Model, error)

type Request struct {
	Messages  []Message
	Tools     []Tool
	ForceTool string // name of a tool the model must call; empty lets the model decide
	MaxTokens int
}

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant messages requesting tools
	ToolCallID string     // tool results
}

// Tool defines a function the model can call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

type Response struct {
	Content          string
	ToolCalls        []ToolCall
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// ParseToolArguments unmarshals tool arguments into T. Empty arguments
// yield the zero value.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if arguments == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchema reflects the JSON schema of T for tool parameters.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}
