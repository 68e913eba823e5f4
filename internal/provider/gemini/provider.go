// Package gemini implements the Google Gemini generateContent protocol.
// Gemini models the conversation as user/model turns with the system prompt
// carried out of band in systemInstruction.
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

const roleModel = "model"

// Provider implements provider.Adapter for Gemini.
type Provider struct {
	info     models.ProviderInfo
	cfg      config.ProviderConfig
	creds    credentials.Source
	endpoint provider.Endpoint
	baseURL  string
}

// New constructs a Gemini adapter.
func New(cfg config.ProviderConfig, creds credentials.Source, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if creds == nil {
		return nil, errors.New("credential source must not be nil")
	}
	info := provider.MustLookup(models.ProviderGemini)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = info.BaseURL
	}

	return &Provider{
		info:  info,
		cfg:   cfg,
		creds: creds,
		endpoint: provider.Endpoint{
			ID:      models.ProviderGemini,
			BaseURL: baseURL,
			Headers: cfg.Headers,
			Client:  client,
		},
		baseURL: baseURL,
	}, nil
}

func (p *Provider) ID() models.ProviderID {
	return models.ProviderGemini
}

func (p *Provider) Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error) {
	apiKey := p.creds.Lookup(p.cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: models.ProviderGemini, Key: p.cfg.APIKeyEnv}
	}
	if err := provider.ValidateMessages(messages); err != nil {
		return nil, err
	}

	model := provider.ResolveModel(models.ProviderGemini, p.creds.Lookup(p.cfg.ModelEnv), p.cfg.Model)
	payload, err := buildGeneratePayload(messages, opts)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("x-goog-api-key", apiKey)

	endpoint := p.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"

	var resp generateResponse
	if err := p.endpoint.PostJSON(ctx, endpoint, header, payload, &resp); err != nil {
		return nil, err
	}
	return resp.toResult(p.info, model)
}

type generatePayload struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// buildGeneratePayload lifts system messages into systemInstruction, joined
// in their original order, and keeps every other turn in sequence.
func buildGeneratePayload(messages []models.Message, opts models.Options) (generatePayload, error) {
	contents := make([]content, 0, len(messages))
	var systemParts []string

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case models.RoleUser:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		case models.RoleAssistant:
			contents = append(contents, content{Role: roleModel, Parts: []part{{Text: msg.Content}}})
		default:
			return generatePayload{}, errors.Wrapf(provider.ErrInvalidMessage, "gemini does not support role %q", msg.Role)
		}
	}

	if len(contents) == 0 {
		return generatePayload{}, errors.Wrap(provider.ErrInvalidMessage, "gemini request requires at least one user or assistant message")
	}

	payload := generatePayload{
		Contents: contents,
		GenerationConfig: generationConfig{
			Temperature:     opts.TemperatureOr(models.DefaultTemperature),
			MaxOutputTokens: opts.MaxTokensOr(models.DefaultMaxTokens),
		},
	}
	if len(systemParts) > 0 {
		payload.SystemInstruction = &content{Parts: []part{{Text: strings.Join(systemParts, "\n\n")}}}
	}
	return payload, nil
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

func (r generateResponse) toResult(info models.ProviderInfo, model string) (*models.Result, error) {
	if len(r.Candidates) == 0 {
		reason := "response did not include candidates"
		if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + r.PromptFeedback.BlockReason
		}
		return nil, &provider.ParseError{Provider: info.ID, Reason: reason}
	}

	var text strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &provider.ParseError{Provider: info.ID, Reason: "candidate content is empty"}
	}

	result := &models.Result{
		Content:  text.String(),
		Provider: info.DisplayName,
		Model:    model,
	}
	if r.UsageMetadata != nil {
		total := r.UsageMetadata.TotalTokenCount
		if total == 0 {
			total = r.UsageMetadata.PromptTokenCount + r.UsageMetadata.CandidatesTokenCount
		}
		result.TokensUsed = &total
	}
	return result, nil
}
