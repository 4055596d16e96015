package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/suuupra/gateway/internal/config"
)

// KeySetProvider fetches and caches JSON Web Key Sets for all configured
// issuers. One provider is shared across routes so two routes pointing at
// the same issuer share one refresh loop.
type KeySetProvider struct {
	cache  *jwk.Cache
	client *http.Client

	mu         sync.Mutex
	registered map[string]bool

	// discovery caches the jwks_uri resolved from each discoveryUrl.
	discovery sync.Map
	sf        singleflight.Group
}

// NewKeySetProvider creates a key set provider. The context bounds the
// background refresh goroutine.
func NewKeySetProvider(ctx context.Context) *KeySetProvider {
	return &KeySetProvider{
		cache:      jwk.NewCache(ctx),
		client:     &http.Client{Timeout: 10 * time.Second},
		registered: make(map[string]bool),
	}
}

// KeyFunc returns a jwt.Keyfunc that resolves signing keys from the
// policy's key set, by kid when the token carries one.
func (p *KeySetProvider) KeyFunc(policy *config.JWTPolicy) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		uri, err := p.resolveURI(ctx, policy)
		if err != nil {
			return nil, err
		}
		if err := p.register(uri, policy.KeySetTTL()); err != nil {
			return nil, err
		}

		keySet, err := p.cache.Get(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("fetch key set: %w", err)
		}

		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if keySet.Len() > 0 {
				key, _ := keySet.Key(0)
				var rawKey interface{}
				if err := key.Raw(&rawKey); err != nil {
					return nil, fmt.Errorf("extract raw key: %w", err)
				}
				return rawKey, nil
			}
			return nil, fmt.Errorf("no kid in token header and key set is empty")
		}

		key, found := keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not found in key set", kid)
		}
		var rawKey interface{}
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("extract raw key for kid %q: %w", kid, err)
		}
		return rawKey, nil
	}
}

func (p *KeySetProvider) register(uri string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.registered[uri] {
		return nil
	}
	if err := p.cache.Register(uri, jwk.WithMinRefreshInterval(ttl)); err != nil {
		return fmt.Errorf("register key set url: %w", err)
	}
	p.registered[uri] = true
	return nil
}

// resolveURI resolves the policy's key set location. A direct jwksUri wins;
// otherwise the OIDC discovery document is fetched once and its jwks_uri
// cached. Concurrent resolutions of the same URL collapse into one fetch.
func (p *KeySetProvider) resolveURI(ctx context.Context, policy *config.JWTPolicy) (string, error) {
	if policy.JWKSURI != "" {
		return policy.JWKSURI, nil
	}
	if policy.DiscoveryURL == "" {
		return "", fmt.Errorf("no key set source configured")
	}

	if cached, ok := p.discovery.Load(policy.DiscoveryURL); ok {
		return cached.(string), nil
	}

	v, err, _ := p.sf.Do(policy.DiscoveryURL, func() (interface{}, error) {
		uri, err := p.fetchJWKSURI(ctx, policy.DiscoveryURL)
		if err != nil {
			return nil, err
		}
		p.discovery.Store(policy.DiscoveryURL, uri)
		return uri, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *KeySetProvider) fetchJWKSURI(ctx context.Context, discoveryURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery document returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}
