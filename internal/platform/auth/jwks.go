package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWKSCacheTTL = 5 * time.Minute
	// Unknown kids never refetch more often than this.
	minJWKSRefetch = 30 * time.Second
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSCache holds the RSA keys of a JWKS endpoint and refetches them when a
// kid is unknown or the TTL has passed. Refetches are spaced at least
// minRefetch apart, so tokens with made-up kids cannot drive one fetch per
// request.
type JWKSCache struct {
	mu         sync.RWMutex
	refreshMu  sync.Mutex
	url        string
	ttl        time.Duration
	minRefetch time.Duration
	keys       map[string]*rsa.PublicKey
	fetchedAt  time.Time
	client     *http.Client
}

func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:        url,
		ttl:        ttl,
		minRefetch: minJWKSRefetch,
		keys:       make(map[string]*rsa.PublicKey),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *JWKSCache) Key(kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	age := time.Since(c.fetchedAt)
	fetched := !c.fetchedAt.IsZero()
	c.mu.RUnlock()
	if ok && age <= c.ttl {
		return key, nil
	}

	if !fetched || age >= c.minRefetch {
		if err := c.refresh(); err != nil {
			return nil, fmt.Errorf("fetch jwks: %w", err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok = c.keys[kid]; !ok {
		return nil, fmt.Errorf("kid %q not in jwks", kid)
	}
	return key, nil
}

func (c *JWKSCache) refresh() error {
	if c.url == "" {
		return fmt.Errorf("no jwks url configured")
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	c.mu.RLock()
	recent := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.minRefetch
	c.mu.RUnlock()
	if recent {
		return nil
	}
	resp, err := c.client.Get(c.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.rsaKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (k jwk) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}, nil
}

func jwksKeyFunc(cache *JWKSCache) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return cache.Key(kid)
	}
}
