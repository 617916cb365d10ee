// Package tokenservice caches and refreshes short-lived Service-access
// tokens keyed by namespace.
package tokenservice

import (
	"context"
	"sync"
	"time"
)

// DefaultSafetyMargin is subtracted from the token's reported expiry before
// it is treated as stale, so a refresh happens comfortably before the
// Service actually rejects the token.
const DefaultSafetyMargin = 60 * time.Second

// DefaultWindow is used when the direct_access response carries no usable
// expiry at all.
const DefaultWindow = 5 * time.Minute

// DirectAccessResponse is the subset of the Service's direct_access
// response the token service needs.
type DirectAccessResponse struct {
	Token string
	// ServiceTokenExpiresAt is duo_workflow_service.token_expires_at, unix seconds.
	ServiceTokenExpiresAt *int64
	// RailsTokenExpiresAt is gitlab_rails.token_expires_at, ISO-8601.
	RailsTokenExpiresAt *string
}

// Fetcher issues the direct_access REST call. Implemented by internal/restclient.
type Fetcher interface {
	DirectAccess(ctx context.Context, workflowDefinition, rootNamespaceID string) (*DirectAccessResponse, error)
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Service caches direct_access tokens per namespace ID.
type Service struct {
	fetcher             Fetcher
	workflowDefinition  string
	safetyMargin        time.Duration
	now                 func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates a token service bound to the given workflow definition name.
func New(fetcher Fetcher, workflowDefinition string) *Service {
	return &Service{
		fetcher:            fetcher,
		workflowDefinition: workflowDefinition,
		safetyMargin:       DefaultSafetyMargin,
		now:                time.Now,
		cache:              map[string]cacheEntry{},
	}
}

// Get returns a cached token for namespaceID if still fresh, otherwise
// fetches a new one. ok is false on any failure ("no token"); the caller
// proceeds without extended metadata. A nil *Service always reports no
// token.
func (s *Service) Get(ctx context.Context, namespaceID string) (token string, ok bool) {
	if s == nil {
		return "", false
	}
	if cached, found := s.cached(namespaceID); found {
		return cached, true
	}

	resp, err := s.fetcher.DirectAccess(ctx, s.workflowDefinition, namespaceID)
	if err != nil || resp == nil || resp.Token == "" {
		return "", false
	}

	expiresAt := s.computeExpiry(resp)
	s.mu.Lock()
	s.cache[namespaceID] = cacheEntry{value: resp.Token, expiresAt: expiresAt}
	s.mu.Unlock()
	return resp.Token, true
}

func (s *Service) cached(namespaceID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.cache[namespaceID]
	if !found || !entry.expiresAt.After(s.now()) {
		return "", false
	}
	return entry.value, true
}

func (s *Service) computeExpiry(resp *DirectAccessResponse) time.Time {
	now := s.now()

	var candidates []time.Time
	if resp.ServiceTokenExpiresAt != nil {
		candidates = append(candidates, time.Unix(*resp.ServiceTokenExpiresAt, 0))
	}
	if resp.RailsTokenExpiresAt != nil {
		if t, err := time.Parse(time.RFC3339, *resp.RailsTokenExpiresAt); err == nil {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) == 0 {
		return now.Add(DefaultWindow)
	}

	earliest := candidates[0]
	for _, c := range candidates[1:] {
		if c.Before(earliest) {
			earliest = c
		}
	}

	expiry := earliest.Add(-s.safetyMargin)
	floor := now.Add(time.Second)
	if expiry.Before(floor) {
		return floor
	}
	return expiry
}
