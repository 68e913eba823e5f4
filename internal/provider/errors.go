package provider

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/models"
)

// Sentinels matched with errors.Is.
var (
	// ErrNoProviderAvailable is returned when no backend can be selected at all.
	ErrNoProviderAvailable = errors.New("no provider available")

	// ErrCredentialMissing is returned when a hosted backend has no API key.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrTransport covers network failures, timeouts and non-2xx statuses.
	ErrTransport = errors.New("transport failure")

	// ErrParse is returned when a successful response cannot be mapped to a result.
	ErrParse = errors.New("unparseable provider response")

	// ErrAllProvidersFailed is returned when every fallback candidate failed.
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrInvalidMessage indicates the conversation cannot be sent to any backend.
	ErrInvalidMessage = errors.New("invalid message")
)

// ConfigurationError is returned when neither the local backend nor any
// credentialed hosted backend is usable.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoProviderAvailable, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrNoProviderAvailable
}

// CredentialMissingError names the backend and the variable that was empty.
type CredentialMissingError struct {
	Provider models.ProviderID
	Key      string
}

func (e *CredentialMissingError) Error() string {
	return fmt.Sprintf("%s: %s (set %s)", e.Provider, ErrCredentialMissing, e.Key)
}

// Is implements error matching for errors.Is().
func (e *CredentialMissingError) Is(target error) bool {
	return target == ErrCredentialMissing
}

// TransportError wraps a failed HTTP exchange. StatusCode is zero when no
// response was received.
type TransportError struct {
	Provider   models.ProviderID
	StatusCode int
	Status     string
	Detail     string
	Cause      error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: ", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, "upstream returned %s", e.Status)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", e.Detail)
		}
		return b.String()
	}
	b.WriteString("request failed")
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Is implements error matching for errors.Is().
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ParseError reports a response body that did not yield usable content.
type ParseError struct {
	Provider models.ProviderID
	Reason   string
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, ErrParse, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, ErrParse, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// Is implements error matching for errors.Is().
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Attempt records one failed backend call.
type Attempt struct {
	Provider models.ProviderID
	Err      error
}

// ExhaustionError is returned once every candidate backend has failed.
type ExhaustionError struct {
	Attempts []Attempt
}

func (e *ExhaustionError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrAllProvidersFailed.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Err.Error())
	}
	return fmt.Sprintf("%s after %d attempt(s): %s", ErrAllProvidersFailed, len(e.Attempts), strings.Join(parts, "; "))
}

// Is implements error matching for errors.Is().
func (e *ExhaustionError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Tried lists the attempted backends in order.
func (e *ExhaustionError) Tried() []models.ProviderID {
	out := make([]models.ProviderID, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Provider)
	}
	return out
}

// Terminal reports whether err should cross the router boundary unchanged.
func Terminal(err error) bool {
	return errors.Is(err, ErrNoProviderAvailable) || errors.Is(err, ErrAllProvidersFailed)
}

// Classify names the failure kind for logs and metrics.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	default:
		return "other"
	}
}
