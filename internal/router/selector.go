package router

import (
	"context"

	"fieldassist/internal/config"
	"fieldassist/internal/credentials"
	"fieldassist/internal/models"
	"fieldassist/internal/provider"
)

// AvailabilityChecker reports whether the local backend can be reached now.
type AvailabilityChecker interface {
	Reachable(ctx context.Context) bool
}

// Selector picks the backend for a request with no explicit provider.
// Nothing is cached: availability and credentials are re-read on every call.
type Selector struct {
	local  AvailabilityChecker
	creds  credentials.Source
	keyEnv map[models.ProviderID]string
}

// NewSelector builds a selector using the credential variable names from cfg.
func NewSelector(local AvailabilityChecker, creds credentials.Source, cfg config.Config) *Selector {
	keyEnv := make(map[models.ProviderID]string)
	for _, id := range provider.PreferenceOrder() {
		keyEnv[id] = cfg.Provider(id).APIKeyEnv
	}
	return &Selector{
		local:  local,
		creds:  creds,
		keyEnv: keyEnv,
	}
}

// Select returns the first usable backend in preference order.
func (s *Selector) Select(ctx context.Context) (models.ProviderID, error) {
	return first(s.Available(ctx))
}

func first(available []models.ProviderID) (models.ProviderID, error) {
	if len(available) == 0 {
		return "", &provider.ConfigurationError{
			Reason: "local backend is unreachable and no hosted provider has an API key configured",
		}
	}
	return available[0], nil
}

// Available lists every usable backend in preference order.
func (s *Selector) Available(ctx context.Context) []models.ProviderID {
	out := make([]models.ProviderID, 0, len(s.keyEnv))
	for _, id := range provider.PreferenceOrder() {
		if id == models.ProviderOllama {
			if s.localReachable(ctx) {
				out = append(out, id)
			}
			continue
		}
		if s.hasCredential(id) {
			out = append(out, id)
		}
	}
	return out
}

func (s *Selector) localReachable(ctx context.Context) bool {
	return s.local != nil && s.local.Reachable(ctx)
}

func (s *Selector) hasCredential(id models.ProviderID) bool {
	key := s.keyEnv[id]
	return key != "" && s.creds != nil && s.creds.Lookup(key) != ""
}
