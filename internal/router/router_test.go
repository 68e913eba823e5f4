package router

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/logging"
	"fieldassist/internal/metrics"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

type fakeProber struct {
	reachable bool
	calls     atomic.Int32
}

func (f *fakeProber) Reachable(context.Context) bool {
	f.calls.Add(1)
	return f.reachable
}

// recorder tracks call order and concurrency across all fake adapters.
type recorder struct {
	mu       sync.Mutex
	calls    []models.ProviderID
	inFlight int
	maxSeen  int
}

func (r *recorder) enter(id models.ProviderID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	r.inFlight++
	if r.inFlight > r.maxSeen {
		r.maxSeen = r.inFlight
	}
}

func (r *recorder) leave() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

func (r *recorder) order() []models.ProviderID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ProviderID(nil), r.calls...)
}

type fakeAdapter struct {
	id    models.ProviderID
	rec   *recorder
	err   error
	delay time.Duration
	hook  func()
	got   []models.Message
}

func (f *fakeAdapter) ID() models.ProviderID { return f.id }

func (f *fakeAdapter) Generate(_ context.Context, messages []models.Message, _ models.Options) (*models.Result, error) {
	f.rec.enter(f.id)
	f.got = messages
	defer f.rec.leave()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return nil, f.err
	}
	info := provider.MustLookup(f.id)
	return &models.Result{
		Content:  "reply from " + string(f.id),
		Provider: info.DisplayName,
		Model:    info.DefaultModel,
	}, nil
}

func upstreamFailure(id models.ProviderID) error {
	return &provider.TransportError{
		Provider:   id,
		StatusCode: http.StatusInternalServerError,
		Status:     "500 Internal Server Error",
		Detail:     "boom",
	}
}

type harness struct {
	router   *Router
	rec      *recorder
	prober   *fakeProber
	adapters map[models.ProviderID]*fakeAdapter
	logs     *observer.ObservedLogs
	metrics  *metrics.Metrics
}

// newHarness wires a router over fake adapters. failing lists backends whose
// adapter returns an upstream error; keys lists hosted backends with credentials.
func newHarness(t *testing.T, localUp bool, keys []models.ProviderID, failing ...models.ProviderID) *harness {
	t.Helper()

	cfg := config.Default()
	creds := credentials.Static{}
	for _, id := range keys {
		creds[cfg.Provider(id).APIKeyEnv] = "key-" + string(id)
	}

	rec := &recorder{}
	fails := make(map[models.ProviderID]bool)
	for _, id := range failing {
		fails[id] = true
	}

	fakes := make(map[models.ProviderID]*fakeAdapter)
	adapters := make(map[models.ProviderID]provider.Adapter)
	for _, id := range provider.PreferenceOrder() {
		fa := &fakeAdapter{id: id, rec: rec}
		if fails[id] {
			fa.err = upstreamFailure(id)
		}
		fakes[id] = fa
		adapters[id] = fa
	}

	core, logs := observer.New(zapcore.DebugLevel)
	prober := &fakeProber{reachable: localUp}
	m := metrics.New()

	r, err := New(adapters, NewSelector(prober, creds, cfg), zap.New(core), m)
	require.NoError(t, err)

	return &harness{router: r, rec: rec, prober: prober, adapters: fakes, logs: logs, metrics: m}
}

func userPrompt(text string) []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: "You are a roofing sales assistant."},
		{Role: models.RoleUser, Content: text},
	}
}

func failedProviders(logs *observer.ObservedLogs) []string {
	var out []string
	for _, entry := range logs.FilterMessage("provider attempt failed").All() {
		out = append(out, entry.ContextMap()["provider"].(string))
	}
	return out
}

func TestGenerateUsesLocalWhenReachable(t *testing.T) {
	h := newHarness(t, true, nil)

	result, err := h.router.Generate(context.Background(), userPrompt("Draft a follow-up for a hail claim."), models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Ollama (Local)", result.Provider)
	assert.Equal(t, "llama3.2", result.Model)
	assert.Equal(t, "reply from ollama", result.Content)
	assert.Equal(t, []models.ProviderID{models.ProviderOllama}, h.rec.order())

	assert.Equal(t, []models.ProviderID{models.ProviderOllama}, h.router.AvailableProviders(context.Background()))
}

func TestGenerateLocalFirstEvenWithHostedKeys(t *testing.T) {
	all := provider.PreferenceOrder()
	h := newHarness(t, true, all[1:])

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Ollama (Local)", result.Provider)
	assert.Equal(t, []models.ProviderID{models.ProviderOllama}, h.rec.order())
}

func TestGenerateFallsBackToNextHosted(t *testing.T) {
	h := newHarness(t, false,
		[]models.ProviderID{models.ProviderGroq, models.ProviderTogether},
		models.ProviderGroq,
	)

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Together AI", result.Provider)
	assert.Equal(t, "meta-llama/Llama-3.3-70B-Instruct-Turbo", result.Model)
	assert.NotEmpty(t, result.Content)
	assert.Equal(t, []models.ProviderID{models.ProviderGroq, models.ProviderTogether}, h.rec.order())
	assert.Equal(t, []string{"groq"}, failedProviders(h.logs))
}

func TestGenerateChecksLocalOncePerRequest(t *testing.T) {
	h := newHarness(t, false,
		[]models.ProviderID{models.ProviderGroq, models.ProviderTogether},
		models.ProviderGroq,
	)

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Together AI", result.Provider)
	assert.Equal(t, int32(1), h.prober.calls.Load())
}

func TestGenerateOverrideChecksLocalOnceOnFailure(t *testing.T) {
	h := newHarness(t, false,
		[]models.ProviderID{models.ProviderGroq, models.ProviderGemini},
		models.ProviderGemini, models.ProviderGroq,
	)

	_, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: models.ProviderGemini})
	require.ErrorIs(t, err, provider.ErrAllProvidersFailed)
	assert.Equal(t, []models.ProviderID{models.ProviderGemini, models.ProviderGroq}, h.rec.order())
	assert.Equal(t, int32(1), h.prober.calls.Load())
}

func TestGenerateOverrideSuccessSkipsLocalCheck(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderGroq})

	_, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: models.ProviderGroq})
	require.NoError(t, err)
	assert.Zero(t, h.prober.calls.Load())
}

func TestGenerateAcceptsEmptyAssistantTurn(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderGroq})

	msgs := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: ""},
		{Role: models.RoleUser, Content: "again"},
	}
	result, err := h.router.Generate(context.Background(), msgs, models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "Groq", result.Provider)
	assert.Equal(t, []models.ProviderID{models.ProviderGroq}, h.rec.order())
	assert.Equal(t, msgs, h.adapters[models.ProviderGroq].got)
}

func TestGenerateSingleCredentialedProviderFails(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderGemini}, models.ProviderGemini)

	_, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.ErrorIs(t, err, provider.ErrAllProvidersFailed)

	var exhausted *provider.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []models.ProviderID{models.ProviderGemini}, exhausted.Tried())
	assert.Equal(t, []models.ProviderID{models.ProviderGemini}, h.rec.order())
	assert.Equal(t, []string{"gemini"}, failedProviders(h.logs))

	expected := `
# HELP fieldassist_exhausted_total Requests for which every backend failed
# TYPE fieldassist_exhausted_total counter
fieldassist_exhausted_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(h.metrics.Registry(), strings.NewReader(expected), "fieldassist_exhausted_total"))
}

func TestGenerateNothingConfigured(t *testing.T) {
	h := newHarness(t, false, nil)

	_, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.ErrorIs(t, err, provider.ErrNoProviderAvailable)

	var cfgErr *provider.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, h.rec.order())
	assert.Equal(t, 1, h.logs.FilterMessage("no provider available").Len())
}

func TestGenerateOverrideFallsBackToRemaining(t *testing.T) {
	h := newHarness(t, false,
		[]models.ProviderID{models.ProviderGroq, models.ProviderGemini},
		models.ProviderGemini,
	)

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: models.ProviderGemini})
	require.NoError(t, err)
	assert.Equal(t, "Groq", result.Provider)
	assert.Equal(t, []models.ProviderID{models.ProviderGemini, models.ProviderGroq}, h.rec.order())
	assert.Equal(t, []string{"gemini"}, failedProviders(h.logs))
	assert.Equal(t, 1, h.logs.FilterMessage("fallback succeeded").Len())
}

func TestGenerateTriesEachProviderOnceInPreferenceOrder(t *testing.T) {
	all := provider.PreferenceOrder()
	h := newHarness(t, true, all[1:], all...)

	_, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.ErrorIs(t, err, provider.ErrAllProvidersFailed)

	assert.Equal(t, all, h.rec.order())
	assert.Len(t, failedProviders(h.logs), len(all))

	var exhausted *provider.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, all, exhausted.Tried())
	for _, attempt := range exhausted.Attempts {
		assert.ErrorIs(t, attempt.Err, provider.ErrTransport)
	}
}

func TestGenerateOverrideDoesNotRepeatFirstAttempt(t *testing.T) {
	all := provider.PreferenceOrder()
	h := newHarness(t, true, all[1:], models.ProviderTogether, models.ProviderOllama, models.ProviderGroq, models.ProviderGemini)

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: models.ProviderTogether})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", result.Provider)
	assert.Equal(t, []models.ProviderID{
		models.ProviderTogether,
		models.ProviderOllama,
		models.ProviderGroq,
		models.ProviderGemini,
		models.ProviderOpenAI,
	}, h.rec.order())
}

func TestGenerateOverrideWithoutCredentialFallsBack(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderTogether})
	h.adapters[models.ProviderOpenAI].err = &provider.CredentialMissingError{Provider: models.ProviderOpenAI, Key: "OPENAI_API_KEY"}

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: models.ProviderOpenAI})
	require.NoError(t, err)
	assert.Equal(t, "Together AI", result.Provider)
	assert.Equal(t, []models.ProviderID{models.ProviderOpenAI, models.ProviderTogether}, h.rec.order())

	entries := h.logs.FilterMessage("provider attempt failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "credential_missing", entries[0].ContextMap()["kind"])
}

func TestGenerateAttemptsAreSequential(t *testing.T) {
	all := provider.PreferenceOrder()
	h := newHarness(t, true, all[1:], all[:4]...)
	for _, fa := range h.adapters {
		fa.delay = 5 * time.Millisecond
	}

	result, err := h.router.Generate(context.Background(), userPrompt("hello"), models.Options{})
	require.NoError(t, err)
	assert.Equal(t, "OpenAI", result.Provider)
	assert.Equal(t, 1, h.rec.maxSeen)
}

func TestGenerateStopsWhenContextCancelled(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderGroq, models.ProviderTogether}, models.ProviderGroq)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.adapters[models.ProviderGroq].hook = cancel

	_, err := h.router.Generate(ctx, userPrompt("hello"), models.Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []models.ProviderID{models.ProviderGroq}, h.rec.order())
}

func TestGenerateRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, true, nil)

	_, err := h.router.Generate(context.Background(), nil, models.Options{})
	require.ErrorIs(t, err, provider.ErrInvalidMessage)

	_, err = h.router.Generate(context.Background(), userPrompt("hello"), models.Options{Provider: "mistral"})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)

	assert.Empty(t, h.rec.order())
	assert.Zero(t, h.prober.calls.Load())
}

func TestGenerateLogsRequestID(t *testing.T) {
	h := newHarness(t, false, []models.ProviderID{models.ProviderGroq, models.ProviderOpenAI}, models.ProviderGroq)

	ctx := logging.WithRequestID(context.Background(), "req-42")
	_, err := h.router.Generate(ctx, userPrompt("hello"), models.Options{})
	require.NoError(t, err)

	entries := h.logs.FilterMessage("provider attempt failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestAvailableProvidersFollowsPreferenceOrder(t *testing.T) {
	h := newHarness(t, true, []models.ProviderID{models.ProviderOpenAI, models.ProviderGroq})

	assert.Equal(t, []models.ProviderID{
		models.ProviderOllama,
		models.ProviderGroq,
		models.ProviderOpenAI,
	}, h.router.AvailableProviders(context.Background()))

	h.prober.reachable = false
	assert.Equal(t, []models.ProviderID{
		models.ProviderGroq,
		models.ProviderOpenAI,
	}, h.router.AvailableProviders(context.Background()))
}

func TestProviderInfoIsStable(t *testing.T) {
	h := newHarness(t, false, nil)

	first, err := h.router.ProviderInfo(models.ProviderGemini)
	require.NoError(t, err)
	second, err := h.router.ProviderInfo(models.ProviderGemini)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "Google Gemini", first.DisplayName)

	_, err = h.router.ProviderInfo("mistral")
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestSelectorRechecksLocalEachCall(t *testing.T) {
	prober := &fakeProber{}
	creds := credentials.Static{"TOGETHER_API_KEY": "k"}
	sel := NewSelector(prober, creds, config.Default())

	id, err := sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ProviderTogether, id)

	prober.reachable = true
	id, err = sel.Select(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOllama, id)
	assert.Equal(t, int32(2), prober.calls.Load())
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, NewSelector(nil, credentials.Static{}, config.Default()), nil, nil)
	require.Error(t, err)

	_, err = New(map[models.ProviderID]provider.Adapter{}, nil, nil, nil)
	require.Error(t, err)
}
