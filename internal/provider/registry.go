package provider

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/models"
)

// ErrUnknownProvider indicates the identifier is not one of the known backends.
var ErrUnknownProvider = errors.New("unknown provider")

// Adapter translates canonical requests into one backend's wire format.
type Adapter interface {
	ID() models.ProviderID
	Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error)
}

// preferenceOrder is the fixed selection and fallback order.
var preferenceOrder = [...]models.ProviderID{
	models.ProviderOllama,
	models.ProviderGroq,
	models.ProviderTogether,
	models.ProviderGemini,
	models.ProviderOpenAI,
}

var registry = map[models.ProviderID]models.ProviderInfo{
	models.ProviderOllama: {
		ID:           models.ProviderOllama,
		DisplayName:  "Ollama (Local)",
		BaseURL:      "http://localhost:11434",
		DefaultModel: "llama3.2",
		CostPerToken: 0,
		SpeedRank:    3,
	},
	models.ProviderGroq: {
		ID:           models.ProviderGroq,
		DisplayName:  "Groq",
		BaseURL:      "https://api.groq.com/openai/v1",
		DefaultModel: "llama-3.3-70b-versatile",
		CostPerToken: 0.00000059,
		SpeedRank:    1,
		RequiresKey:  true,
	},
	models.ProviderTogether: {
		ID:           models.ProviderTogether,
		DisplayName:  "Together AI",
		BaseURL:      "https://api.together.xyz/v1",
		DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
		CostPerToken: 0.00000088,
		SpeedRank:    2,
		RequiresKey:  true,
	},
	models.ProviderGemini: {
		ID:           models.ProviderGemini,
		DisplayName:  "Google Gemini",
		BaseURL:      "https://generativelanguage.googleapis.com/v1beta",
		DefaultModel: "gemini-1.5-flash",
		CostPerToken: 0,
		SpeedRank:    2,
		RequiresKey:  true,
	},
	models.ProviderOpenAI: {
		ID:           models.ProviderOpenAI,
		DisplayName:  "OpenAI",
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
		CostPerToken: 0.0000006,
		SpeedRank:    2,
		RequiresKey:  true,
	},
}

// Lookup returns the static metadata for id.
func Lookup(id models.ProviderID) (models.ProviderInfo, error) {
	info, ok := registry[id]
	if !ok {
		return models.ProviderInfo{}, errors.Wrapf(ErrUnknownProvider, "%q", id)
	}
	return info, nil
}

// MustLookup is Lookup for identifiers known at compile time.
func MustLookup(id models.ProviderID) models.ProviderInfo {
	info, err := Lookup(id)
	if err != nil {
		panic(err)
	}
	return info
}

// PreferenceOrder returns the backends in selection order.
func PreferenceOrder() []models.ProviderID {
	out := make([]models.ProviderID, len(preferenceOrder))
	copy(out, preferenceOrder[:])
	return out
}

// ParseID normalises a user-supplied identifier.
func ParseID(raw string) (models.ProviderID, error) {
	id := models.ProviderID(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := registry[id]; !ok {
		return "", errors.Wrapf(ErrUnknownProvider, "%q (known: %s)", raw, knownIDs())
	}
	return id, nil
}

func knownIDs() string {
	names := make([]string, 0, len(preferenceOrder))
	for _, id := range preferenceOrder {
		names = append(names, string(id))
	}
	return strings.Join(names, ", ")
}

// ValidateMessages rejects conversations no adapter can translate. Empty
// content is allowed; a backend that refuses it fails like any other attempt.
func ValidateMessages(messages []models.Message) error {
	if len(messages) == 0 {
		return errors.Wrap(ErrInvalidMessage, "at least one message is required")
	}
	for i, msg := range messages {
		if !msg.Role.Valid() {
			return errors.Wrapf(ErrInvalidMessage, "message[%d]: unsupported role %q", i, msg.Role)
		}
	}
	return nil
}
