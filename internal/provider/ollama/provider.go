// Package ollama talks to a self-hosted Ollama server through its native
// /api/chat endpoint. No credential is required.
package ollama

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

// Provider implements provider.Adapter for Ollama. It does not probe before
// calling; an unreachable server surfaces as a TransportError.
type Provider struct {
	info     models.ProviderInfo
	cfg      config.ProviderConfig
	creds    credentials.Source
	endpoint provider.Endpoint
	chatURL  string
}

// New constructs the local adapter.
func New(cfg config.ProviderConfig, creds credentials.Source, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if creds == nil {
		creds = credentials.Static{}
	}
	info := provider.MustLookup(models.ProviderOllama)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = info.BaseURL
	}

	return &Provider{
		info:  info,
		cfg:   cfg,
		creds: creds,
		endpoint: provider.Endpoint{
			ID:      models.ProviderOllama,
			BaseURL: baseURL,
			Headers: cfg.Headers,
			Client:  client,
		},
		chatURL: baseURL + "/api/chat",
	}, nil
}

func (p *Provider) ID() models.ProviderID {
	return models.ProviderOllama
}

func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error) {
	if err := provider.ValidateMessages(messages); err != nil {
		return nil, err
	}

	model := provider.ResolveModel(models.ProviderOllama, p.creds.Lookup(p.cfg.ModelEnv), p.cfg.Model)
	payload := buildChatPayload(model, messages, opts)

	var resp chatResponse
	if err := p.endpoint.PostJSON(ctx, p.chatURL, nil, payload, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(p.info, model)
}

type chatPayload struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

func buildChatPayload(model string, messages []models.Message, opts models.Options) chatPayload {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return chatPayload{
		Model:    model,
		Messages: out,
		Stream:   false,
		Options: chatOptions{
			Temperature: opts.TemperatureOr(models.DefaultTemperature),
			NumPredict:  opts.MaxTokensOr(models.DefaultMaxTokens),
		},
	}
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

func (r chatResponse) toResult(info models.ProviderInfo, model string) (*models.Result, error) {
	if r.Error != "" {
		return nil, &provider.ParseError{Provider: info.ID, Reason: r.Error}
	}
	if strings.TrimSpace(r.Message.Content) == "" {
		return nil, &provider.ParseError{Provider: info.ID, Reason: "response message is empty"}
	}

	result := &models.Result{
		Content:  r.Message.Content,
		Provider: info.DisplayName,
		Model:    model,
	}
	if total := r.PromptEvalCount + r.EvalCount; total > 0 {
		result.TokensUsed = &total
	}
	return result, nil
}
