package llm

import (
	"encoding/json"
	"time"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleFunction  MessageRole = "function"
)

// Message represents a single message in a conversation.
// Messages are passed by value and never modified after construction.
type Message struct {
	Role         MessageRole
	Content      string
	Name         string        // Function name for RoleFunction messages
	FunctionCall *FunctionCall // Set on assistant messages that requested a call
	TokenCount   int           // Optional pre-computed token count
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// FunctionMessage creates a message carrying the result of a function call.
func FunctionMessage(name, result string) Message {
	return Message{Role: RoleFunction, Name: name, Content: result}
}

// FunctionCall is a model-initiated request to invoke a registered function.
// Arguments holds the raw JSON object produced by the model.
type FunctionCall struct {
	Name      string
	Arguments string
}

// ParseArguments decodes the call arguments into a map.
// An empty argument string yields an empty map.
func (c *FunctionCall) ParseArguments() (map[string]any, error) {
	args := make(map[string]any)
	if c == nil || c.Arguments == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(c.Arguments), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ChatOptions holds per-call generation parameters.
type ChatOptions struct {
	Model        string
	Temperature  *float64
	MaxTokens    int
	TopP         *float64
	N            int
	Stop         []string
	Functions    []FunctionDefinition
	FunctionCall string // "auto", "none" or a function name
	Stream       bool
	User         string
}

// DefaultChatOptions returns the options used when the caller passes nil.
func DefaultChatOptions() *ChatOptions {
	temp := 0.7
	return &ChatOptions{
		Temperature: &temp,
		MaxTokens:   2000,
	}
}

// WithModel returns a copy of the options with the model overridden.
func (o *ChatOptions) WithModel(model string) *ChatOptions {
	c := o.clone()
	c.Model = model
	return c
}

// WithFunctions returns a copy of the options carrying the given function definitions.
func (o *ChatOptions) WithFunctions(defs []FunctionDefinition) *ChatOptions {
	c := o.clone()
	c.Functions = defs
	if len(defs) > 0 && c.FunctionCall == "" {
		c.FunctionCall = "auto"
	}
	return c
}

func (o *ChatOptions) clone() *ChatOptions {
	if o == nil {
		return DefaultChatOptions()
	}
	c := *o
	return &c
}

// Usage represents token usage for a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse represents a complete (non-streaming) response.
type ChatResponse struct {
	ID              string
	Provider        string
	Model           string
	Content         string
	ThinkingContent string
	FinishReason    string
	Usage           Usage
	FunctionCall    *FunctionCall
	Latency         time.Duration
	CreatedAt       time.Time
}

// HasContent reports whether the response carries any text.
func (r *ChatResponse) HasContent() bool {
	return r != nil && r.Content != ""
}

// HasFunctionCall reports whether the model requested a function call.
func (r *ChatResponse) HasFunctionCall() bool {
	return r != nil && r.FunctionCall != nil && r.FunctionCall.Name != ""
}

// TotalTokens returns the total token usage, falling back to prompt+completion.
func (r *ChatResponse) TotalTokens() int {
	if r == nil {
		return 0
	}
	if r.Usage.TotalTokens > 0 {
		return r.Usage.TotalTokens
	}
	return r.Usage.PromptTokens + r.Usage.CompletionTokens
}

// StreamChunk is one incremental delta of a streamed response.
type StreamChunk struct {
	ID           string
	Model        string
	Content      string
	Role         string
	FinishReason string
	Index        int
	FunctionCall *FunctionCall // Partial function call delta, fragments are concatenated by the consumer
}

// IsLast reports whether the chunk carries a finish reason.
func (c StreamChunk) IsLast() bool {
	return c.FinishReason != ""
}

// HasContent reports whether the chunk carries text.
func (c StreamChunk) HasContent() bool {
	return c.Content != ""
}

// Empty reports whether the chunk carries nothing worth delivering.
func (c StreamChunk) Empty() bool {
	return c.Content == "" && c.Role == "" && c.FinishReason == "" && c.FunctionCall == nil
}

// FunctionDefinition describes a callable function in wire-schema form.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  JSONSchema
}

// JSONSchema is the parameter schema of a function. Only object schemas are used.
type JSONSchema struct {
	Type                 string                    `json:"type"`
	Description          string                    `json:"description,omitempty"`
	Properties           map[string]PropertySchema `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties *bool                     `json:"additionalProperties,omitempty"`
}

// ObjectSchema creates an empty object schema.
func ObjectSchema() JSONSchema {
	return JSONSchema{Type: "object", Properties: make(map[string]PropertySchema)}
}

// WithProperty adds a property to the schema, optionally marking it required.
func (s JSONSchema) WithProperty(name string, prop PropertySchema, required bool) JSONSchema {
	props := make(map[string]PropertySchema, len(s.Properties)+1)
	for k, v := range s.Properties {
		props[k] = v
	}
	props[name] = prop
	s.Properties = props
	if required {
		s.Required = append(append([]string(nil), s.Required...), name)
	}
	return s
}

// Map converts the schema into a generic map, the form most SDKs accept.
func (s JSONSchema) Map() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// PropertySchema describes a single function parameter.
type PropertySchema struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Enum        []any           `json:"enum,omitempty"`
	Default     any             `json:"default,omitempty"`
	Minimum     *float64        `json:"minimum,omitempty"`
	Maximum     *float64        `json:"maximum,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
}

func StringProperty(description string) PropertySchema {
	return PropertySchema{Type: "string", Description: description}
}

func IntegerProperty(description string) PropertySchema {
	return PropertySchema{Type: "integer", Description: description}
}

func NumberProperty(description string) PropertySchema {
	return PropertySchema{Type: "number", Description: description}
}

func BooleanProperty(description string) PropertySchema {
	return PropertySchema{Type: "boolean", Description: description}
}

func ArrayProperty(description string, items PropertySchema) PropertySchema {
	return PropertySchema{Type: "array", Description: description, Items: &items}
}

func EnumProperty(description string, values ...any) PropertySchema {
	return PropertySchema{Type: "string", Description: description, Enum: values}
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Streaming       bool
	FunctionCalling bool
	Vision          bool
	Thinking        bool
	MaxTokens       int
	ContextWindow   int
}

// ModelInfo describes a model offered by a provider.
type ModelInfo struct {
	ID                    string
	Name                  string
	Provider              string
	ContextWindow         int
	MaxOutputTokens       int
	SupportsTools         bool
	SupportsThinking      bool
	CostPer1kInputTokens  float64
	CostPer1kOutputTokens float64
}

// EstimateCost returns the cost of the given usage at this model's prices.
func (m ModelInfo) EstimateCost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*m.CostPer1kInputTokens +
		float64(u.CompletionTokens)/1000*m.CostPer1kOutputTokens
}

// BackendConfig is the connection configuration owned by one provider instance.
type BackendConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	Organization string
	Timeout      time.Duration
	Headers      map[string]string
}

// DefaultTimeout bounds every provider call when the config leaves Timeout unset.
const DefaultTimeout = 60 * time.Second

// EffectiveTimeout returns the configured timeout or DefaultTimeout.
func (c BackendConfig) EffectiveTimeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
