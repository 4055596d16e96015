package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/variables"
)

// IdentityClient cross-validates authenticated callers against the identity
// service. Validation asserts the account still exists and is active, which
// a signed token alone cannot prove after revocation.
type IdentityClient struct {
	baseURL string
	client  *http.Client
	cache   *lru.LRU[string, *validationResponse]
	sf      singleflight.Group
}

type validationResponse struct {
	Valid      bool                   `json:"valid"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// NewIdentityClient creates a client for the identity service. Positive
// results are cached briefly so hot callers do not hammer the service.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IdentityClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   lru.NewLRU[string, *validationResponse](1024, nil, 5*time.Minute),
	}
}

// Validate checks the identity against the identity service using the
// caller's own bearer token. Service unavailability is a hard failure: a
// route that demands cross-validation never admits unvalidated callers.
// Attributes returned by the service overlay the token claims.
func (c *IdentityClient) Validate(ctx context.Context, id *variables.Identity, bearerToken string) error {
	if id.Subject == "" {
		return errors.ErrUnauthorized.WithDetails("token has no subject to validate")
	}

	cacheKey := c.cacheKey(id.Subject, bearerToken)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return c.apply(id, cached)
	}

	v, err, _ := c.sf.Do(cacheKey, func() (interface{}, error) {
		resp, err := c.fetch(ctx, id.Subject, bearerToken)
		if err != nil {
			return nil, err
		}
		if resp.Valid {
			c.cache.Add(cacheKey, resp)
		}
		return resp, nil
	})
	if err != nil {
		return errors.Wrap(err, http.StatusUnauthorized, "unauthorized", "identity validation unavailable")
	}
	return c.apply(id, v.(*validationResponse))
}

func (c *IdentityClient) apply(id *variables.Identity, resp *validationResponse) error {
	if !resp.Valid {
		return errors.ErrUnauthorized.WithDetails("identity is no longer valid")
	}
	if len(resp.Attributes) > 0 {
		if id.Claims == nil {
			id.Claims = make(map[string]interface{}, len(resp.Attributes))
		}
		for k, v := range resp.Attributes {
			id.Claims[k] = v
		}
	}
	return nil
}

func (c *IdentityClient) fetch(ctx context.Context, subject, bearerToken string) (*validationResponse, error) {
	url := fmt.Sprintf("%s/users/%s/validate", c.baseURL, subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call identity service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out validationResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode validation response: %w", err)
		}
		return &out, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &validationResponse{Valid: false}, nil
	default:
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}
}

// cacheKey binds the cached result to both subject and token so a rotated
// token re-validates.
func (c *IdentityClient) cacheKey(subject, bearerToken string) string {
	sum := sha256.Sum256([]byte(subject + "\x00" + bearerToken))
	return hex.EncodeToString(sum[:])
}
