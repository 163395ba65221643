package store

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// MemoryDB is the default in-process OAuthDb, backed by patrickmn/go-cache
// so every entry carries its own expiration without a background sweep
// loop beyond the library's own janitor.
type MemoryDB struct {
	c *cache.Cache
}

// NewMemoryDB constructs a MemoryDB. cleanupInterval controls how often
// go-cache sweeps expired entries; pass 0 to use a sensible default.
func NewMemoryDB(cleanupInterval time.Duration) *MemoryDB {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &MemoryDB{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (m *MemoryDB) GetAccessToken(ctx context.Context, accountID, resourceURL string) (*AccessToken, error) {
	v, ok := m.c.Get(accessTokenKey(accountID, resourceURL))
	if !ok {
		return nil, nil
	}
	tok, ok := v.(AccessToken)
	if !ok {
		return nil, nil
	}
	if tok.Expired(time.Now()) {
		m.c.Delete(accessTokenKey(accountID, resourceURL))
		return nil, nil
	}
	return &tok, nil
}

func (m *MemoryDB) SaveAccessToken(ctx context.Context, accountID string, token AccessToken) error {
	ttl := DefaultTokenTTL
	if token.ExpiresAt != nil {
		ttl = time.Until(*token.ExpiresAt)
		if ttl <= 0 {
			// Already expired; store it anyway with a minimal TTL so a
			// concurrent reader still observes (and evicts) it rather than
			// silently losing the write.
			ttl = time.Second
		}
	}
	m.c.Set(accessTokenKey(accountID, token.ResourceURL), token, ttl)
	return nil
}

func (m *MemoryDB) DeleteAccessToken(ctx context.Context, accountID, resourceURL string) error {
	m.c.Delete(accessTokenKey(accountID, resourceURL))
	return nil
}

func (m *MemoryDB) GetClientCredentials(ctx context.Context, issuer string) (*ClientCredentials, error) {
	v, ok := m.c.Get(clientCredentialsKey(issuer))
	if !ok {
		return nil, nil
	}
	creds, ok := v.(ClientCredentials)
	if !ok {
		return nil, nil
	}
	return &creds, nil
}

func (m *MemoryDB) SaveClientCredentials(ctx context.Context, issuer string, creds ClientCredentials) error {
	// Client credentials are reused indefinitely once registered.
	m.c.Set(clientCredentialsKey(issuer), creds, cache.NoExpiration)
	return nil
}

func (m *MemoryDB) SavePKCE(ctx context.Context, accountID, state string, values PKCEValues) error {
	m.c.Set(pkceKey(accountID, state), values, DefaultPKCETTL)
	return nil
}

func (m *MemoryDB) GetPKCE(ctx context.Context, accountID, state string) (*PKCEValues, error) {
	v, ok := m.c.Get(pkceKey(accountID, state))
	if !ok {
		return nil, nil
	}
	values, ok := v.(PKCEValues)
	if !ok {
		return nil, nil
	}
	if time.Since(values.CreatedAt) > DefaultPKCETTL {
		m.c.Delete(pkceKey(accountID, state))
		return nil, nil
	}
	return &values, nil
}

func (m *MemoryDB) DeletePKCE(ctx context.Context, accountID, state string) error {
	m.c.Delete(pkceKey(accountID, state))
	return nil
}

var _ OAuthDb = (*MemoryDB)(nil)
