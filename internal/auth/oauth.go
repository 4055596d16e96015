package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suuupra/gateway/internal/config"
	"github.com/suuupra/gateway/internal/errors"
	"github.com/suuupra/gateway/internal/variables"
)

// Introspector validates opaque tokens against an OAuth2 authorization
// server (RFC 7662).
type Introspector struct {
	client *http.Client
}

// NewIntrospector creates an introspection client shared across routes.
func NewIntrospector(timeout time.Duration) *Introspector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Introspector{client: &http.Client{Timeout: timeout}}
}

type introspectionResponse struct {
	Active   bool   `json:"active"`
	Sub      string `json:"sub,omitempty"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Username string `json:"username,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// Introspect validates a token against the policy's introspection endpoint
// and builds an identity from the response.
func (i *Introspector) Introspect(ctx context.Context, policy *config.OAuth2Policy, token string) (*variables.Identity, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if policy.ClientID != "" {
		req.SetBasicAuth(policy.ClientID, policy.ClientSecret)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, http.StatusUnauthorized, "unauthorized", "token introspection unavailable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.ErrUnauthorized.WithDetails(fmt.Sprintf("introspection returned status %d", resp.StatusCode))
	}

	var out introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	if !out.Active {
		return nil, errors.ErrUnauthorized.WithDetails("token is not active")
	}

	id := &variables.Identity{
		Subject:  out.Sub,
		AuthType: "jwt",
		Claims: map[string]interface{}{
			"sub":       out.Sub,
			"client_id": out.ClientID,
			"username":  out.Username,
		},
	}
	if out.Scope != "" {
		id.Scopes = strings.Fields(out.Scope)
		id.Claims["scope"] = out.Scope
	}
	return id, nil
}
