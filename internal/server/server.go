package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"fieldassist/internal/config"
	"fieldassist/internal/logging"
	"fieldassist/internal/metrics"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
	"fieldassist/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 5 * time.Minute
	idleTimeout         = 120 * time.Second

	// unavailableMessage is the only detail callers see when no backend answered.
	unavailableMessage = "AI is unavailable, check configuration"
)

// Service is the routing surface the HTTP layer depends on.
type Service interface {
	Generate(ctx context.Context, messages []models.Message, opts models.Options) (*models.Result, error)
	AvailableProviders(ctx context.Context) []models.ProviderID
	ProviderInfo(id models.ProviderID) (models.ProviderInfo, error)
}

type Server struct {
	cfg     config.Config
	svc     Service
	app     *echo.Echo
	logger  *zap.Logger
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, svc Service, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if svc == nil {
		return nil, errors.New("service must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		svc:     svc,
		app:     e,
		logger:  logger,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes(m)

	return srv, nil
}

// Handler exposes the echo instance for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.logger.Info("starting server", zap.String("addr", s.address))

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "graceful shutdown failed")
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes(m *metrics.Metrics) {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/v1/generate", s.handleGenerate)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.GET("/v1/providers", s.handleProviders)
	s.app.GET("/v1/providers/:id", s.handleProviderInfo)
	if m != nil {
		s.app.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req translator.GenerateRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	msgs, opts := req.ToCanonical()
	res, err := s.svc.Generate(c.Request().Context(), msgs, opts)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromGenerateResult(res))
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	msgs, opts := req.ToCanonical()
	res, err := s.svc.Generate(c.Request().Context(), msgs, opts)
	if err != nil {
		return toHTTPError(err)
	}

	id := "chatcmpl-" + uuid.NewString()
	return c.JSON(http.StatusOK, translator.FromResult(id, time.Now().Unix(), res))
}

func (s *Server) handleProviders(c echo.Context) error {
	available := s.svc.AvailableProviders(c.Request().Context())
	ids := make([]string, 0, len(available))
	for _, id := range available {
		ids = append(ids, string(id))
	}
	return c.JSON(http.StatusOK, map[string][]string{"available": ids})
}

func (s *Server) handleProviderInfo(c echo.Context) error {
	id, err := provider.ParseID(c.Param("id"))
	if err != nil {
		return requestError{
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Type:    "not_found_error",
			Code:    "unknown_provider",
		}
	}
	info, err := s.svc.ProviderInfo(id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, translator.FromProviderInfo(info))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func unavailableCode(err error) string {
	if errors.Is(err, provider.ErrNoProviderAvailable) {
		return "no_provider_available"
	}
	return "all_providers_failed"
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch {
	case provider.Terminal(err):
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: unavailableMessage,
			Type:    "provider_unavailable",
			Code:    unavailableCode(err),
		}
	case errors.Is(err, provider.ErrInvalidMessage), errors.Is(err, provider.ErrUnknownProvider):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "request timed out",
			Type:    "timeout_error",
		}
	case errors.Is(err, context.Canceled):
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: "request cancelled",
			Type:    "cancelled",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("fieldassist ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /v1/generate")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  GET  /v1/providers")
	fmt.Println("  GET  /v1/providers/:id")
	fmt.Println("  GET  /metrics")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/generate -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"Draft a follow-up for a storm-damage lead\"}]}'\n\n", host, port)
}
