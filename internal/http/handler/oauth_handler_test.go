package handler_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/domain"
	httpHandler "github.com/mcpgrid/mcpgrid-auth/internal/http/handler"
	httpmiddleware "github.com/mcpgrid/mcpgrid-auth/internal/http/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/service"
	"github.com/mcpgrid/mcpgrid-auth/internal/session"
	"github.com/mcpgrid/mcpgrid-auth/internal/tenant"
)

const handlerVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk-verifier"

type handlerFixture struct {
	handler  *httpHandler.OAuthHandler
	clients  *memClientRepo
	codes    *memCodeRepo
	tokens   *memTokenRepo
	sessions *session.Manager
}

func testTenantCtx() *tenant.Context {
	return &tenant.Context{
		Tenant: domain.Tenant{
			ID:              1,
			Slug:            "acme",
			IssuerURL:       "https://acme.mcpgrid.dev",
			SupportedScopes: []string{"mcp:read", "mcp:write"},
			DefaultScope:    "mcp:read",
			Enabled:         true,
		},
		Issuer: "https://acme.mcpgrid.dev",
	}
}

func newFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clients := newMemClientRepo()
	codes := newMemCodeRepo()
	tokens := newMemTokenRepo()
	consents := newMemConsentRepo()
	cfg := config.Config{
		Environment:          "development",
		AccessTokenTTL:       time.Hour,
		RefreshTokenTTL:      24 * time.Hour,
		AuthorizationCodeTTL: 10 * time.Minute,
		ConsentTTL:           24 * time.Hour,
		TokenBytes:           32,
	}
	logger := zap.NewNop()
	sessions := session.NewManager(newMemKeyRepo(), time.Hour)

	return &handlerFixture{
		handler: httpHandler.NewOAuthHandler(
			service.NewAuthorizeService(clients, codes, consents, cfg, logger),
			service.NewTokenService(clients, codes, tokens, cfg, logger),
			service.NewRegistryService(clients, cfg, logger),
			service.NewIntrospectService(tokens, clients, logger),
			service.NewDiscoveryService(),
			&httpmiddleware.Session{Manager: sessions},
			cfg,
		),
		clients:  clients,
		codes:    codes,
		tokens:   tokens,
		sessions: sessions,
	}
}

func (f *handlerFixture) seedClient(t *testing.T, secret string, grants ...string) domain.OAuthClient {
	t.Helper()
	client := domain.OAuthClient{
		TenantID:     1,
		ClientID:     "mcp_handlerclient",
		Name:         "Handler Client",
		RedirectURIs: []string{"https://app.example.com/callback"},
		GrantTypes:   grants,
		AuthMethod:   domain.AuthMethodPost,
		Status:       domain.ClientStatusActive,
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	client.SecretHash = string(hash)
	created, err := f.clients.Create(context.Background(), client)
	require.NoError(t, err)
	return created
}

func (f *handlerFixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, err := f.sessions.Issue(context.Background(), "https://acme.mcpgrid.dev", domain.User{ID: 42, TenantID: 1, Email: "dev@acme.test"})
	require.NoError(t, err)
	return &http.Cookie{Name: session.CookieName, Value: token}
}

func doRequest(req *http.Request, fn gin.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Set("tenantContext", testTenantCtx())
	fn(c)
	// Bodyless responses (204, POST redirects) stay unflushed on a bare
	// test context; force the header out the way the engine would.
	c.Writer.WriteHeaderNow()
	return w
}

func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func authorizeQuery(clientID string) url.Values {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", "https://app.example.com/callback")
	q.Set("scope", "mcp:read")
	q.Set("state", "abc")
	q.Set("code_challenge", challenge(handlerVerifier))
	q.Set("code_challenge_method", "S256")
	return q
}

func TestServerMetadataEndpoint(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/.well-known/oauth-authorization-server", nil)
	w := doRequest(req, f.handler.ServerMetadata)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	require.Contains(t, body, `"issuer":"https://acme.mcpgrid.dev"`)
	require.Contains(t, body, "authorization_endpoint")
	require.Contains(t, body, `"code_challenge_methods_supported":["S256"]`)
	require.Contains(t, body, `"resource_indicators_supported":true`)
}

func TestAuthorizeRedirectsAnonymousToLogin(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/authorize?"+authorizeQuery(client.ClientID).Encode(), nil)
	w := doRequest(req, f.handler.AuthorizeStart)

	require.Equal(t, http.StatusFound, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/login?return_to="), location)

	// The preserved request survives the round trip intact.
	unescaped, err := url.QueryUnescape(strings.TrimPrefix(location, "/login?return_to="))
	require.NoError(t, err)
	require.Contains(t, unescaped, "client_id="+client.ClientID)
	require.Contains(t, unescaped, "code_challenge=")
}

func TestAuthorizeErrorRedirectsToClient(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	q := authorizeQuery(client.ClientID)
	q.Set("response_type", "token")
	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/authorize?"+q.Encode(), nil)
	w := doRequest(req, f.handler.AuthorizeStart)

	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example.com", location.Host)
	require.Equal(t, "unsupported_response_type", location.Query().Get("error"))
	require.Equal(t, "abc", location.Query().Get("state"))
}

func TestAuthorizeInvalidRedirectNeverRedirects(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	q := authorizeQuery(client.ClientID)
	q.Set("redirect_uri", "https://evil.example.com/cb")
	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/authorize?"+q.Encode(), nil)
	w := doRequest(req, f.handler.AuthorizeStart)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "invalid_request")
}

func TestAuthorizeConsentPromptAndApproval(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)
	cookie := f.sessionCookie(t)

	// First visit asks for consent.
	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/authorize?"+authorizeQuery(client.ClientID).Encode(), nil)
	req.AddCookie(cookie)
	w := doRequest(req, f.handler.AuthorizeStart)

	require.Equal(t, http.StatusOK, w.Code)
	var prompt struct {
		ConsentRequired bool   `json:"consent_required"`
		ClientName      string `json:"client_name"`
		Scope           string `json:"scope"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &prompt))
	require.True(t, prompt.ConsentRequired)
	require.Equal(t, "Handler Client", prompt.ClientName)
	require.Equal(t, "mcp:read", prompt.Scope)

	// Approving mints a code and redirects back to the client. The consent
	// form carries every OAuth parameter in the body, nothing on the query
	// string.
	form := authorizeQuery(client.ClientID)
	form.Del("response_type")
	form.Set("action", "approve")
	form.Set("remember_consent", "true")
	decideReq := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/authorize", strings.NewReader(form.Encode()))
	decideReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	decideReq.AddCookie(cookie)

	dw := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(dw)
	c.Request = decideReq
	c.Set("tenantContext", testTenantCtx())
	c.Set("sessionUserID", int64(42))
	f.handler.AuthorizeDecide(c)
	c.Writer.WriteHeaderNow()

	require.Equal(t, http.StatusFound, dw.Code)
	location, err := url.Parse(dw.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	require.Equal(t, "abc", location.Query().Get("state"))

	// A returning user with covering consent skips the prompt entirely.
	again := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/authorize?"+authorizeQuery(client.ClientID).Encode(), nil)
	again.AddCookie(cookie)
	aw := doRequest(again, f.handler.AuthorizeStart)
	require.Equal(t, http.StatusFound, aw.Code)
}

func TestTokenEndpointFullFlow(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode, domain.GrantRefreshToken)

	require.NoError(t, f.codes.Create(context.Background(), domain.OAuthCode{
		TenantID:            1,
		ClientID:            client.ClientID,
		UserID:              42,
		Code:                "thecode",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "mcp:read",
		CodeChallenge:       challenge(handlerVerifier),
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}))

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"thecode"},
		"redirect_uri":  {"https://app.example.com/callback"},
		"code_verifier": {handlerVerifier},
		"client_id":     {client.ClientID},
		"client_secret": {"s3cret"},
	}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(req, f.handler.TokenExchange)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var resp service.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.AccessToken, "mga_"))
	require.True(t, strings.HasPrefix(resp.RefreshToken, "mgr_"))
	require.Equal(t, "Bearer", resp.TokenType)
}

func TestTokenEndpointAcceptsJSONBody(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	require.NoError(t, f.codes.Create(context.Background(), domain.OAuthCode{
		TenantID:            1,
		ClientID:            client.ClientID,
		UserID:              42,
		Code:                "jsoncode",
		RedirectURI:         "https://app.example.com/callback",
		Scope:               "mcp:read",
		CodeChallenge:       challenge(handlerVerifier),
		CodeChallengeMethod: "S256",
		Resource:            "https://tools.acme.dev",
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}))

	body := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "jsoncode",
		"redirect_uri":  "https://app.example.com/callback",
		"code_verifier": handlerVerifier,
		"client_id":     client.ClientID,
		"client_secret": "s3cret",
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/token", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(req, f.handler.TokenExchange)

	require.Equal(t, http.StatusOK, w.Code)
	var resp service.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.AccessToken, "mga_"))
	require.Equal(t, "https://tools.acme.dev", resp.Audience)
}

func TestTokenEndpointErrorShape(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {client.ClientID},
		"client_secret": {"s3cret"},
	}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(req, f.handler.TokenExchange)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "unsupported_grant_type", body["error"])
	require.NotEmpty(t, body["error_description"])
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantClientCredentials)
	client.AuthMethod = domain.AuthMethodBasic
	_, err := f.clients.Update(context.Background(), client)
	require.NoError(t, err)

	form := url.Values{"grant_type": {"client_credentials"}}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, "s3cret")
	w := doRequest(req, f.handler.TokenExchange)

	require.Equal(t, http.StatusOK, w.Code)

	// Wrong credentials come back as 401 with a challenge.
	req2 := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/token", strings.NewReader(form.Encode()))
	req2.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req2.SetBasicAuth(client.ClientID, "wrong")
	w2 := doRequest(req2, f.handler.TokenExchange)

	require.Equal(t, http.StatusUnauthorized, w2.Code)
	require.NotEmpty(t, w2.Header().Get("WWW-Authenticate"))
}

func TestIntrospectRequiresClientAuth(t *testing.T) {
	f := newFixture(t)
	f.seedClient(t, "s3cret", domain.GrantClientCredentials)

	// No credentials at all.
	form := url.Values{"token": {"mga_garbage"}}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/introspect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(req, f.handler.IntrospectToken)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "invalid_client")
}

func TestIntrospectAlwaysAnswers200(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantClientCredentials)

	form := url.Values{
		"token":         {"mga_garbage"},
		"client_id":     {client.ClientID},
		"client_secret": {"s3cret"},
	}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/introspect", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(req, f.handler.IntrospectToken)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"active":false}`, w.Body.String())
}

func TestRevokeEndpointAlwaysSucceeds(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantClientCredentials)

	form := url.Values{
		"token":         {"mga_whatever"},
		"client_id":     {client.ClientID},
		"client_secret": {"s3cret"},
	}
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := doRequest(req, f.handler.Revoke)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	f := newFixture(t)

	body := `{"client_name":"Dashboard","redirect_uris":["https://app.example.com/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(req, f.handler.Register)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp service.ClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, strings.HasPrefix(resp.ClientID, "mcp_"))
	require.NotEmpty(t, resp.ClientSecret)

	// Invalid metadata is rejected with the RFC 7591 error code.
	bad := `{"client_name":"X","redirect_uris":["not a url"]}`
	badReq := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/register", strings.NewReader(bad))
	badReq.Header.Set("Content-Type", "application/json")
	bw := doRequest(badReq, f.handler.Register)

	require.Equal(t, http.StatusBadRequest, bw.Code)
	require.Contains(t, bw.Body.String(), "invalid_client_metadata")
}

func TestClientManagementEndpoints(t *testing.T) {
	f := newFixture(t)

	body := `{"client_name":"Dashboard","redirect_uris":["https://app.example.com/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "https://acme.mcpgrid.dev/oauth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(req, f.handler.Register)
	require.Equal(t, http.StatusCreated, w.Code)

	var created service.ClientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	getReq := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/register?client_id="+created.ClientID, nil)
	gw := doRequest(getReq, f.handler.GetClient)
	require.Equal(t, http.StatusOK, gw.Code)

	var fetched service.ClientResponse
	require.NoError(t, json.Unmarshal(gw.Body.Bytes(), &fetched))
	require.Equal(t, created.ClientID, fetched.ClientID)
	require.Equal(t, "Dashboard", fetched.ClientName)
	require.Empty(t, fetched.ClientSecret)

	delReq := httptest.NewRequest(http.MethodDelete, "https://acme.mcpgrid.dev/oauth/register?client_id="+created.ClientID, nil)
	dw := doRequest(delReq, f.handler.RevokeClient)
	require.Equal(t, http.StatusNoContent, dw.Code)

	missReq := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/register?client_id=mcp_missing", nil)
	mw := doRequest(missReq, f.handler.GetClient)
	require.Equal(t, http.StatusNotFound, mw.Code)
	require.Contains(t, mw.Body.String(), "invalid_client")
}

func TestUserInfoEndpoint(t *testing.T) {
	f := newFixture(t)
	client := f.seedClient(t, "s3cret", domain.GrantAuthorizationCode)

	userID := int64(42)
	_, err := f.tokens.Create(context.Background(), domain.OAuthToken{
		TenantID:        1,
		ClientID:        client.ClientID,
		UserID:          &userID,
		AccessToken:     "mga_userinfo",
		Scope:           "mcp:read",
		AccessExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/userinfo", nil)
	req.Header.Set("Authorization", "Bearer mga_userinfo")
	w := doRequest(req, f.handler.UserInfo)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"sub":42`)

	// Revoked tokens are turned away.
	bad := httptest.NewRequest(http.MethodGet, "https://acme.mcpgrid.dev/oauth/userinfo", nil)
	bad.Header.Set("Authorization", "Bearer mga_unknown")
	bw := doRequest(bad, f.handler.UserInfo)
	require.Equal(t, http.StatusUnauthorized, bw.Code)
}

