// Package credentials keeps provider API keys in the provider_keys table so
// they can be rotated without a redeploy.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobengine/internal/infra"
	"jobengine/internal/sqlinline"
)

const (
	ProviderOpenAI = "openai"
	ProviderQwen   = "qwen"
)

// DefaultTTL bounds how long a rotated key can go unnoticed.
const DefaultTTL = time.Minute

// Known reports whether provider names a supported integration.
func Known(provider string) bool {
	switch provider {
	case ProviderOpenAI, ProviderQwen:
		return true
	default:
		return false
	}
}

type cachedKey struct {
	key     string
	fetched time.Time
}

type Store struct {
	sql infra.SQLExecutor
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[string]cachedKey
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{
		sql:   sql,
		ttl:   DefaultTTL,
		now:   time.Now,
		cache: make(map[string]cachedKey),
	}
}

// Key returns the stored key for provider, or "" when none is stored.
func (s *Store) Key(ctx context.Context, provider string) (string, error) {
	s.mu.Lock()
	if c, ok := s.cache[provider]; ok && s.now().Sub(c.fetched) < s.ttl {
		s.mu.Unlock()
		return c.key, nil
	}
	s.mu.Unlock()

	var key string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectProviderKey, provider).Scan(&key); err != nil {
		if !infra.IsNoRows(err) {
			return "", err
		}
		key = ""
	}
	key = strings.TrimSpace(key)

	s.mu.Lock()
	s.cache[provider] = cachedKey{key: key, fetched: s.now()}
	s.mu.Unlock()
	return key, nil
}

// Resolve prefers the stored key and falls back to the configured one.
func (s *Store) Resolve(ctx context.Context, provider, fallback string) (string, error) {
	if s == nil || s.sql == nil {
		return strings.TrimSpace(fallback), nil
	}
	key, err := s.Key(ctx, provider)
	if err != nil {
		return "", fmt.Errorf("load %s key: %w", provider, err)
	}
	if key == "" {
		return strings.TrimSpace(fallback), nil
	}
	return key, nil
}

// SetKey stores or rotates the key for provider.
func (s *Store) SetKey(ctx context.Context, provider, key string, metadata map[string]any) error {
	if !Known(provider) {
		return fmt.Errorf("unknown provider %q", provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s key is required", provider)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderKey, provider, key, raw); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, provider)
	s.mu.Unlock()
	return nil
}
