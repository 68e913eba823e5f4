package factory

import (
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/metrics"
	"fieldassist/internal/models"
	"fieldassist/internal/probe"
	"fieldassist/internal/provider"
	geminiProvider "fieldassist/internal/provider/gemini"
	ollamaProvider "fieldassist/internal/provider/ollama"
	openaiProvider "fieldassist/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 60 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

// BuildAdapters constructs one adapter per known backend.
func BuildAdapters(cfg config.Config, creds credentials.Source) (map[models.ProviderID]provider.Adapter, error) {
	if creds == nil {
		return nil, errors.New("credential source must not be nil")
	}

	adapters := make(map[models.ProviderID]provider.Adapter, len(provider.PreferenceOrder()))
	for _, id := range provider.PreferenceOrder() {
		section := cfg.Provider(id)
		client := newHTTPClient(section.Timeout)

		var (
			adapter provider.Adapter
			err     error
		)
		switch id {
		case models.ProviderOllama:
			adapter, err = ollamaProvider.New(section, creds, client)
		case models.ProviderGemini:
			adapter, err = geminiProvider.New(section, creds, client)
		default:
			adapter, err = openaiProvider.New(id, section, creds, client)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "initialise %s provider", id)
		}
		adapters[id] = adapter
	}
	return adapters, nil
}

// NewProber builds the local availability prober from the ollama section.
func NewProber(cfg config.Config, logger *zap.Logger, m *metrics.Metrics) *probe.Prober {
	section := cfg.Providers.Ollama
	return probe.New(section.BaseURL, cfg.Environment.Host, section.ProbeTimeout, newHTTPClient(section.ProbeTimeout), logger, m)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
