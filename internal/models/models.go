package models

// ProviderID is the machine identifier of a known backend.
type ProviderID string

const (
	ProviderOllama   ProviderID = "ollama"
	ProviderGroq     ProviderID = "groq"
	ProviderTogether ProviderID = "together"
	ProviderGemini   ProviderID = "gemini"
	ProviderOpenAI   ProviderID = "openai"
)

// Generation defaults applied by adapters when the caller leaves a field unset.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Role tags a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message represents a single conversational message in the canonical schema.
type Message struct {
	Role    Role
	Content string
}

// Options carries optional per-request generation settings.
type Options struct {
	Provider    ProviderID
	Temperature *float64
	MaxTokens   *int
}

// TemperatureOr returns the requested temperature or def.
func (o Options) TemperatureOr(def float64) float64 {
	if o.Temperature == nil {
		return def
	}
	return *o.Temperature
}

// MaxTokensOr returns the requested token limit or def.
func (o Options) MaxTokensOr(def int) int {
	if o.MaxTokens == nil || *o.MaxTokens <= 0 {
		return def
	}
	return *o.MaxTokens
}

// Result is returned to callers regardless of which backend answered.
type Result struct {
	Content    string
	Provider   string
	Model      string
	TokensUsed *int
}

// ProviderInfo is the static metadata held for each backend.
type ProviderInfo struct {
	ID           ProviderID
	DisplayName  string
	BaseURL      string
	DefaultModel string
	CostPerToken float64
	SpeedRank    int
	RequiresKey  bool
}
