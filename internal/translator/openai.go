package translator

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

// AutoModel lets the selector choose the backend.
const AutoModel = "auto"

var (
	errEmptyMessages     = errors.New("at least one message is required")
	errInvalidRole       = errors.New("invalid role")
	errInvalidContent    = errors.New("invalid message content")
	errStreamUnsupported = errors.New("streaming responses are not supported")
)

// ChatCompletionRequest models the subset of the OpenAI chat/completions
// request that maps onto a canonical generate call.
type ChatCompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Stream      bool
	MaxTokens   *int
	Temperature *float64
	User        string
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model       string        `json:"model"`
		Messages    []ChatMessage `json:"messages"`
		Stream      bool          `json:"stream"`
		MaxTokens   *int          `json:"max_tokens"`
		Temperature *float64      `json:"temperature"`
		User        string        `json:"user"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode chat request")
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Stream = raw.Stream
	r.MaxTokens = raw.MaxTokens
	r.Temperature = raw.Temperature
	r.User = raw.User

	return r.validate()
}

func (r *ChatCompletionRequest) validate() error {
	if r.Stream {
		return errStreamUnsupported
	}
	return validateMessages(r.Messages)
}

// ToCanonical converts the request into canonical messages and options.
// A model naming a known backend pins the first attempt to it; any other
// model, including "auto", leaves the choice to the selector.
func (r ChatCompletionRequest) ToCanonical() ([]models.Message, models.Options) {
	opts := models.Options{
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
	if r.Model != "" && !strings.EqualFold(r.Model, AutoModel) {
		if id, err := provider.ParseID(r.Model); err == nil {
			opts.Provider = id
		}
	}
	return toCanonicalMessages(r.Messages), opts
}

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode message")
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	m.Content = content

	return m.validate()
}

func (m *ChatMessage) validate() error {
	if !models.Role(m.Role).Valid() {
		return errors.Wrapf(errInvalidRole, "%q", m.Role)
	}
	return nil
}

func validateMessages(msgs []ChatMessage) error {
	if len(msgs) == 0 {
		return errEmptyMessages
	}
	for i := range msgs {
		if err := msgs[i].validate(); err != nil {
			return errors.Wrapf(err, "message[%d]", i)
		}
	}
	return nil
}

func toCanonicalMessages(msgs []ChatMessage) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.Message{
			Role:    models.Role(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", errors.Wrapf(errInvalidContent, "segment type %q not supported", segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", errors.Wrap(errInvalidContent, "unsupported content structure")
}

// ChatCompletionResponse models the OpenAI-compatible chat response.
// Provider is an extension naming the backend that produced the reply.
type ChatCompletionResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Provider string       `json:"provider"`
	Choices  []ChatChoice `json:"choices"`
	Usage    *OpenAIUsage `json:"usage,omitempty"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses. Backends
// only report a total, so the split fields stay zero.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromResult constructs the OpenAI response shape from a canonical result.
func FromResult(id string, createdUnix int64, res *models.Result) ChatCompletionResponse {
	var usage *OpenAIUsage
	if res.TokensUsed != nil {
		usage = &OpenAIUsage{TotalTokens: *res.TokensUsed}
	}

	return ChatCompletionResponse{
		ID:       id,
		Object:   "chat.completion",
		Created:  createdUnix,
		Model:    res.Model,
		Provider: res.Provider,
		Choices: []ChatChoice{{
			Index: 0,
			Message: ChatMessage{
				Role:    string(models.RoleAssistant),
				Content: res.Content,
			},
			FinishReason: "stop",
		}},
		Usage: usage,
	}
}
