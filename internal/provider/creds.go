package provider

import (
	"context"
	"sync"
)

// StaticCredentials is an in-memory CredentialSource keyed by user then
// provider. Missing entries yield nil credentials, never an error:
// most providers work unauthenticated.
type StaticCredentials struct {
	mu     sync.RWMutex
	byUser map[string]map[string]map[string]any
}

// NewStaticCredentials creates an empty credential source.
func NewStaticCredentials() *StaticCredentials {
	return &StaticCredentials{byUser: make(map[string]map[string]map[string]any)}
}

// Set stores credentials for a user+provider pair.
func (s *StaticCredentials) Set(userID, provider string, creds map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]map[string]any)
	}
	s.byUser[userID][provider] = creds
}

func (s *StaticCredentials) Credentials(_ context.Context, userID, provider string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds := s.byUser[userID][provider]
	if creds == nil {
		return nil, nil
	}
	out := make(map[string]any, len(creds))
	for k, v := range creds {
		out[k] = v
	}
	return out, nil
}
