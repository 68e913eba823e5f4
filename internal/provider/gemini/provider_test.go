package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

func newTestProvider(t *testing.T, srv *httptest.Server, creds credentials.Source) *Provider {
	t.Helper()
	cfg := config.Default().Providers.Gemini
	cfg.BaseURL = srv.URL + "/v1beta"
	p, err := New(cfg, creds, srv.Client())
	require.NoError(t, err)
	return p
}

func TestBuildGeneratePayloadIsolatesSystem(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "You help roofing reps."},
		{Role: models.RoleUser, Content: "u1"},
		{Role: models.RoleAssistant, Content: "a1"},
		{Role: models.RoleSystem, Content: "Cite sources."},
		{Role: models.RoleUser, Content: "u2"},
		{Role: models.RoleUser, Content: "u3"},
	}

	payload, err := buildGeneratePayload(msgs, models.Options{})
	require.NoError(t, err)

	require.NotNil(t, payload.SystemInstruction)
	assert.Equal(t, "You help roofing reps.\n\nCite sources.", payload.SystemInstruction.Parts[0].Text)

	var roles, texts []string
	for _, c := range payload.Contents {
		roles = append(roles, c.Role)
		texts = append(texts, c.Parts[0].Text)
	}
	assert.Equal(t, []string{"user", "model", "user", "user"}, roles)
	assert.Equal(t, []string{"u1", "a1", "u2", "u3"}, texts)
	assert.Equal(t, 0.7, payload.GenerationConfig.Temperature)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
}

func TestBuildGeneratePayloadWithoutSystem(t *testing.T) {
	payload, err := buildGeneratePayload([]models.Message{{Role: models.RoleUser, Content: "hi"}}, models.Options{})
	require.NoError(t, err)
	assert.Nil(t, payload.SystemInstruction)
}

func TestBuildGeneratePayloadRequiresConversation(t *testing.T) {
	_, err := buildGeneratePayload([]models.Message{{Role: models.RoleSystem, Content: "only system"}}, models.Options{})
	require.ErrorIs(t, err, provider.ErrInvalidMessage)
}

func TestGenerate(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "AIza-test", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Hail "},{"text":"bruising."}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":4,"totalTokenCount":16}
		}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, credentials.Static{"GEMINI_API_KEY": "AIza-test"})
	maxTokens := 100
	res, err := p.Generate(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "What is it?"},
	}, models.Options{MaxTokens: &maxTokens})
	require.NoError(t, err)

	assert.Equal(t, "Hail bruising.", res.Content)
	assert.Equal(t, "Google Gemini", res.Provider)
	assert.Equal(t, "gemini-1.5-flash", res.Model)
	require.NotNil(t, res.TokensUsed)
	assert.Equal(t, 16, *res.TokensUsed)

	assert.Contains(t, raw, "systemInstruction")
	genCfg, ok := raw["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 100.0, genCfg["maxOutputTokens"])
}

func TestGenerateMissingCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a credential")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv, credentials.Static{})
	_, err := p.Generate(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.Options{})
	require.ErrorIs(t, err, provider.ErrCredentialMissing)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error":{"code":500,"message":"Internal error encountered.","status":"INTERNAL"}}`,
			wantErr: provider.ErrTransport,
			wantMsg: "INTERNAL: Internal error encountered.",
		},
		{
			name:    "blocked prompt",
			status:  http.StatusOK,
			body:    `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			wantErr: provider.ErrParse,
			wantMsg: "prompt blocked: SAFETY",
		},
		{
			name:    "empty parts",
			status:  http.StatusOK,
			body:    `{"candidates":[{"content":{"parts":[]}}]}`,
			wantErr: provider.ErrParse,
			wantMsg: "candidate content is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := newTestProvider(t, srv, credentials.Static{"GEMINI_API_KEY": "k"})
			_, err := p.Generate(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, models.Options{})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
