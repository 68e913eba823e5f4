package translator

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

// GenerateRequest is the native request body of POST /v1/generate.
type GenerateRequest struct {
	Messages    []ChatMessage
	Provider    models.ProviderID
	Temperature *float64
	MaxTokens   *int
}

// UnmarshalJSON validates messages and resolves the optional provider.
func (r *GenerateRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Messages    []ChatMessage `json:"messages"`
		Provider    string        `json:"provider"`
		Temperature *float64      `json:"temperature"`
		MaxTokens   *int          `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "decode generate request")
	}
	if err := validateMessages(raw.Messages); err != nil {
		return err
	}

	if p := strings.TrimSpace(raw.Provider); p != "" {
		id, err := provider.ParseID(p)
		if err != nil {
			return err
		}
		r.Provider = id
	}

	r.Messages = raw.Messages
	r.Temperature = raw.Temperature
	r.MaxTokens = raw.MaxTokens
	return nil
}

// ToCanonical converts the request into canonical messages and options.
func (r GenerateRequest) ToCanonical() ([]models.Message, models.Options) {
	return toCanonicalMessages(r.Messages), models.Options{
		Provider:    r.Provider,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
}

// GenerateResponse mirrors models.Result on the wire.
type GenerateResponse struct {
	Content    string `json:"content"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	TokensUsed *int   `json:"tokens_used,omitempty"`
}

// FromGenerateResult converts a canonical result.
func FromGenerateResult(res *models.Result) GenerateResponse {
	return GenerateResponse{
		Content:    res.Content,
		Provider:   res.Provider,
		Model:      res.Model,
		TokensUsed: res.TokensUsed,
	}
}

// ProviderInfoResponse is the wire form of models.ProviderInfo.
type ProviderInfoResponse struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"display_name"`
	BaseURL      string  `json:"base_url"`
	DefaultModel string  `json:"default_model"`
	CostPerToken float64 `json:"cost_per_token"`
	SpeedRank    int     `json:"speed_rank"`
	RequiresKey  bool    `json:"requires_key"`
}

// FromProviderInfo converts registry metadata.
func FromProviderInfo(info models.ProviderInfo) ProviderInfoResponse {
	return ProviderInfoResponse{
		ID:           string(info.ID),
		DisplayName:  info.DisplayName,
		BaseURL:      info.BaseURL,
		DefaultModel: info.DefaultModel,
		CostPerToken: info.CostPerToken,
		SpeedRank:    info.SpeedRank,
		RequiresKey:  info.RequiresKey,
	}
}
