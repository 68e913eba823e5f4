// Package openai implements the OpenAI chat-completions wire protocol. It
// backs every hosted provider that speaks it: Groq, Together AI and OpenAI.
package openai

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

// Provider implements provider.Adapter for OpenAI-compatible APIs.
type Provider struct {
	id       models.ProviderID
	info     models.ProviderInfo
	cfg      config.ProviderConfig
	creds    credentials.Source
	endpoint provider.Endpoint
	chatURL  string
}

// New creates an adapter for one of the OpenAI-compatible backends.
func New(id models.ProviderID, cfg config.ProviderConfig, creds credentials.Source, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if creds == nil {
		return nil, errors.New("credential source must not be nil")
	}
	info, err := provider.Lookup(id)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = info.BaseURL
	}

	return &Provider{
		id:    id,
		info:  info,
		cfg:   cfg,
		creds: creds,
		endpoint: provider.Endpoint{
			ID:      id,
			BaseURL: baseURL,
			Headers: cfg.Headers,
			Client:  client,
		},
		chatURL: baseURL + "/chat/completions",
	}, nil
}

func (p *Provider) ID() models.ProviderID {
	return p.id
}

func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error) {
	apiKey := p.creds.Lookup(p.cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: p.id, Key: p.cfg.APIKeyEnv}
	}
	if err := provider.ValidateMessages(messages); err != nil {
		return nil, err
	}

	model := provider.ResolveModel(p.id, p.creds.Lookup(p.cfg.ModelEnv), p.cfg.Model)
	payload := buildChatPayload(model, messages, opts)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)

	var resp chatResponse
	if err := p.endpoint.PostJSON(ctx, p.chatURL, header, payload, &resp); err != nil {
		return nil, err
	}

	return resp.toResult(p.info, model)
}

type chatPayload struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildChatPayload(model string, messages []models.Message, opts models.Options) chatPayload {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openAIMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	return chatPayload{
		Model:       model,
		Messages:    out,
		Temperature: opts.TemperatureOr(models.DefaultTemperature),
		MaxTokens:   opts.MaxTokensOr(models.DefaultMaxTokens),
	}
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toResult(info models.ProviderInfo, model string) (*models.Result, error) {
	if len(r.Choices) == 0 {
		return nil, &provider.ParseError{Provider: info.ID, Reason: "response did not include choices"}
	}

	content := r.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, &provider.ParseError{Provider: info.ID, Reason: "response content is empty"}
	}

	result := &models.Result{
		Content:  content,
		Provider: info.DisplayName,
		Model:    model,
	}
	if r.Usage != nil {
		total := r.Usage.TotalTokens
		if total == 0 {
			total = r.Usage.PromptTokens + r.Usage.CompletionTokens
		}
		if total > 0 {
			result.TokensUsed = &total
		}
	}
	return result, nil
}
