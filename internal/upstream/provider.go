// Package upstream talks to external identity providers (Google, GitHub)
// during end-user social login. The authorization server only consumes the
// exchange result; provider quirks stay behind this boundary.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Profile is the normalized identity returned by a provider's userinfo
// endpoint.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// Provider holds the OAuth client configuration for one upstream IdP.
type Provider struct {
	Name        string
	OAuth       oauth2.Config
	UserInfoURL string
}

// GoogleProvider builds a Google provider from client credentials.
func GoogleProvider(clientID, clientSecret string) Provider {
	return Provider{
		Name: "google",
		OAuth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		},
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

// GitHubProvider builds a GitHub provider from client credentials.
func GitHubProvider(clientID, clientSecret string) Provider {
	return Provider{
		Name: "github",
		OAuth: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
	}
}

// Client exchanges authorization codes and fetches profiles against real
// provider endpoints.
type Client interface {
	AuthCodeURL(provider, redirectURI, state string) (string, error)
	Exchange(ctx context.Context, provider, code, redirectURI string) (Profile, error)
}

type httpClient struct {
	providers map[string]Provider
	timeout   time.Duration
}

// NewClient creates an upstream client over the given providers.
func NewClient(providers []Provider, timeout time.Duration) Client {
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[strings.ToLower(p.Name)] = p
	}
	return &httpClient{providers: byName, timeout: timeout}
}

func (c *httpClient) provider(name string) (Provider, error) {
	p, ok := c.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, fmt.Errorf("unknown upstream provider %q", name)
	}
	return p, nil
}

func (c *httpClient) AuthCodeURL(provider, redirectURI, state string) (string, error) {
	p, err := c.provider(provider)
	if err != nil {
		return "", err
	}
	cfg := p.OAuth
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange swaps the provider code for a token and immediately fetches the
// userinfo profile. Timeouts fail the whole login; a half-exchanged login is
// never treated as authenticated.
func (c *httpClient) Exchange(ctx context.Context, provider, code, redirectURI string) (Profile, error) {
	p, err := c.provider(provider)
	if err != nil {
		return Profile{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cfg := p.OAuth
	cfg.RedirectURL = redirectURI
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange upstream code: %w", err)
	}

	return c.fetchProfile(ctx, p, token)
}

func (c *httpClient) fetchProfile(ctx context.Context, p Provider, token *oauth2.Token) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build userinfo request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("fetch userinfo: unexpected status %d", resp.StatusCode)
	}

	var raw struct {
		Sub           string `json:"sub"`
		ID            json.Number `json:"id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		AvatarURL     string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Profile{}, fmt.Errorf("decode userinfo: %w", err)
	}

	profile := Profile{
		Subject:       raw.Sub,
		Email:         strings.ToLower(strings.TrimSpace(raw.Email)),
		EmailVerified: raw.EmailVerified,
		Name:          raw.Name,
		AvatarURL:     raw.Picture,
	}
	if profile.Subject == "" {
		profile.Subject = raw.ID.String()
	}
	if profile.AvatarURL == "" {
		profile.AvatarURL = raw.AvatarURL
	}
	if profile.Subject == "" {
		return Profile{}, fmt.Errorf("userinfo response missing subject")
	}
	return profile, nil
}
