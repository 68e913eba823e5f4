package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"fieldassist/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "fieldassist/0.1"
	maxErrorBody    = 64 * 1024
)

// Endpoint bundles what every adapter needs to talk to its backend.
type Endpoint struct {
	ID      models.ProviderID
	BaseURL string
	Headers map[string]string
	Client  *http.Client
}

// PostJSON marshals payload, sends it and decodes a 2xx body into target.
// Failures are returned as TransportError or ParseError.
func (e Endpoint) PostJSON(ctx context.Context, url string, header http.Header, payload, target any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "%s: marshal payload", e.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "%s: construct request", e.ID)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return &TransportError{Provider: e.ID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return e.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &ParseError{Provider: e.ID, Reason: "decode response body", Cause: err}
	}
	return nil
}

func (e Endpoint) statusError(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &TransportError{Provider: e.ID, StatusCode: resp.StatusCode, Status: resp.Status, Cause: err}
	}
	return &TransportError{
		Provider:   e.ID,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Detail:     errorDetail(raw),
	}
}

// errorDetail pulls a message out of the common error envelopes
// ({"error":{"message":..}}, {"error":"..."}) and falls back to the raw body.
func errorDetail(raw []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Error.Message != "" {
		kind := nested.Error.Type
		if kind == "" {
			kind = nested.Error.Status
		}
		if kind != "" {
			return kind + ": " + nested.Error.Message
		}
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return strings.TrimSpace(string(raw))
}

// ResolveModel picks the override, then the configured model, then the
// registry default.
func ResolveModel(id models.ProviderID, override, configured string) string {
	if m := strings.TrimSpace(override); m != "" {
		return m
	}
	if m := strings.TrimSpace(configured); m != "" {
		return m
	}
	return MustLookup(id).DefaultModel
}
