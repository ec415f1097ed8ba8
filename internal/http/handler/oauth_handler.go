package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mcpgrid/mcpgrid-auth/internal/config"
	"github.com/mcpgrid/mcpgrid-auth/internal/http/middleware"
	"github.com/mcpgrid/mcpgrid-auth/internal/service"
	"github.com/mcpgrid/mcpgrid-auth/internal/tenant"
)

// OAuthHandler serves the OAuth 2.1 protocol endpoints.
type OAuthHandler struct {
	Authorize  *service.AuthorizeService
	Token      *service.TokenService
	Registry   *service.RegistryService
	Introspect *service.IntrospectService
	Discovery  *service.DiscoveryService
	Session    *middleware.Session
	Config     config.Config
}

// NewOAuthHandler creates the OAuth endpoint handler set.
func NewOAuthHandler(
	authorize *service.AuthorizeService,
	token *service.TokenService,
	registry *service.RegistryService,
	introspect *service.IntrospectService,
	discovery *service.DiscoveryService,
	session *middleware.Session,
	cfg config.Config,
) *OAuthHandler {
	return &OAuthHandler{
		Authorize:  authorize,
		Token:      token,
		Registry:   registry,
		Introspect: introspect,
		Discovery:  discovery,
		Session:    session,
		Config:     cfg,
	}
}

func tenantOr404(c *gin.Context) (*tenant.Context, bool) {
	tenantCtx, ok := middleware.GetTenantContext(c)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_server", "error_description": "Tenant not resolved."})
		return nil, false
	}
	return tenantCtx, true
}

// noStore marks a response uncacheable per RFC 6749 section 5.1.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

func respondOAuthError(c *gin.Context, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) {
		status := oauthErr.Status
		if status == http.StatusFound {
			status = http.StatusBadRequest
		}
		if status == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", `Basic realm="oauth"`)
		}
		c.JSON(status, gin.H{"error": oauthErr.Code, "error_description": oauthErr.Description})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
}

func parseAuthorizeRequest(c *gin.Context) service.AuthorizeRequest {
	return service.AuthorizeRequest{
		ResponseType:        authorizeParam(c, "response_type"),
		ClientID:            authorizeParam(c, "client_id"),
		RedirectURI:         authorizeParam(c, "redirect_uri"),
		Scope:               authorizeParam(c, "scope"),
		State:               authorizeParam(c, "state"),
		CodeChallenge:       authorizeParam(c, "code_challenge"),
		CodeChallengeMethod: authorizeParam(c, "code_challenge_method"),
		Resource:            authorizeParam(c, "resource"),
	}
}

// authorizeParam reads an OAuth parameter from the form body first so a
// form-encoded consent POST works, falling back to the query string.
func authorizeParam(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

// AuthorizeStart handles GET /oauth/authorize. Anonymous users are sent to
// the login page with the full authorization request preserved; returning
// users with covering consent skip straight to the code redirect.
func (h *OAuthHandler) AuthorizeStart(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	req := parseAuthorizeRequest(c)
	client, scope, err := h.Authorize.Validate(c.Request.Context(), tenantCtx.Tenant, req)
	if err != nil {
		h.respondAuthorizeError(c, req, err)
		return
	}

	userID, authenticated := h.Session.Authenticate(c)
	if !authenticated {
		c.Redirect(http.StatusFound, h.loginURL(c.Request.URL))
		return
	}

	needsConsent, err := h.Authorize.NeedsConsent(c.Request.Context(), tenantCtx.Tenant, userID, client.ClientID, scope)
	if err != nil {
		h.respondAuthorizeError(c, req, err)
		return
	}
	if needsConsent {
		c.JSON(http.StatusOK, gin.H{
			"consent_required": true,
			"client_id":        client.ClientID,
			"client_name":      client.Name,
			"scope":            scope,
			"redirect_uri":     req.RedirectURI,
			"state":            req.State,
		})
		return
	}

	redirect, err := h.Authorize.IssueCode(c.Request.Context(), tenantCtx.Tenant, userID, req, scope)
	if err != nil {
		h.respondAuthorizeError(c, req, err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// AuthorizeDecide handles POST /oauth/authorize. It carries the same OAuth
// parameters as the GET (form-encoded or on the query string) plus
// action=approve|deny and optional remember_consent, and requires a session.
func (h *OAuthHandler) AuthorizeDecide(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	userID, ok := middleware.SessionUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Login required."})
		return
	}

	req := parseAuthorizeRequest(c)
	// The consent form is only ever posted for the code flow.
	if req.ResponseType == "" {
		req.ResponseType = "code"
	}
	_, scope, err := h.Authorize.Validate(c.Request.Context(), tenantCtx.Tenant, req)
	if err != nil {
		h.respondAuthorizeError(c, req, err)
		return
	}

	var redirect string
	if authorizeParam(c, "action") == "approve" {
		remember := authorizeParam(c, "remember_consent") == "true"
		redirect, err = h.Authorize.Approve(c.Request.Context(), tenantCtx.Tenant, userID, req, scope, remember)
	} else {
		redirect, err = h.Authorize.Deny(c.Request.Context(), tenantCtx.Tenant, userID, req)
	}
	if err != nil {
		h.respondAuthorizeError(c, req, err)
		return
	}
	c.Redirect(http.StatusFound, redirect)
}

// respondAuthorizeError renders validation failures. Errors carrying a
// redirect status go back to the verified redirect URI; everything else is
// shown to the user agent and never forwarded.
func (h *OAuthHandler) respondAuthorizeError(c *gin.Context, req service.AuthorizeRequest, err error) {
	var oauthErr *service.OAuthError
	if errors.As(err, &oauthErr) && oauthErr.Status == http.StatusFound {
		redirect, rerr := service.ErrorRedirect(req.RedirectURI, oauthErr.Code, oauthErr.Description, req.State)
		if rerr == nil {
			c.Redirect(http.StatusFound, redirect)
			return
		}
	}
	respondOAuthError(c, err)
}

func (h *OAuthHandler) loginURL(authorizeURL *url.URL) string {
	page := h.Config.LoginPageURL
	if page == "" {
		page = "/login"
	}
	sep := "?"
	if strings.Contains(page, "?") {
		sep = "&"
	}
	return page + sep + "return_to=" + url.QueryEscape(authorizeURL.RequestURI())
}

// tokenExchangeBody binds the token request from a form-encoded or JSON
// body.
type tokenExchangeBody struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
	Scope        string `form:"scope" json:"scope"`
	Resource     string `form:"resource" json:"resource"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
}

// TokenExchange handles POST /oauth/token for all grant types.
func (h *OAuthHandler) TokenExchange(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	var body tokenExchangeBody
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Request body must be form-encoded or JSON."})
		return
	}

	req := service.TokenRequest{
		GrantType:    body.GrantType,
		Code:         body.Code,
		RedirectURI:  body.RedirectURI,
		CodeVerifier: body.CodeVerifier,
		RefreshToken: body.RefreshToken,
		Scope:        body.Scope,
		Resource:     body.Resource,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
		req.BasicAuth = true
	}

	resp, err := h.Token.Exchange(c.Request.Context(), tenantCtx.Tenant, req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Revoke handles POST /oauth/revoke per RFC 7009: unknown tokens still
// return 200.
func (h *OAuthHandler) Revoke(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	req := service.TokenRequest{
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
		req.BasicAuth = true
	}

	err := h.Token.Revoke(c.Request.Context(), tenantCtx.Tenant, req, c.PostForm("token"), c.PostForm("token_type_hint"))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// IntrospectToken handles POST /oauth/introspect. The caller must
// authenticate as a registered client; once past that gate the response is
// always 200 and anything questionable is just inactive.
func (h *OAuthHandler) IntrospectToken(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	creds := service.TokenRequest{
		ClientID:     c.PostForm("client_id"),
		ClientSecret: c.PostForm("client_secret"),
	}
	if id, secret, ok := c.Request.BasicAuth(); ok {
		creds.ClientID = id
		creds.ClientSecret = secret
		creds.BasicAuth = true
	}
	if _, err := h.Token.AuthenticateClient(c.Request.Context(), tenantCtx.Tenant, creds); err != nil {
		respondOAuthError(c, err)
		return
	}

	resp := h.Introspect.Introspect(c.Request.Context(), tenantCtx.Tenant, c.PostForm("token"), c.PostForm("token_type_hint"))
	c.JSON(http.StatusOK, resp)
}

// Register handles POST /oauth/register (RFC 7591).
func (h *OAuthHandler) Register(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	noStore(c)

	var req service.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_metadata", "error_description": "Request body must be a JSON client metadata document."})
		return
	}

	resp, err := h.Registry.Register(c.Request.Context(), tenantCtx.Tenant, req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetClient handles GET /oauth/register?client_id=.
func (h *OAuthHandler) GetClient(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	resp, err := h.Registry.Get(c.Request.Context(), tenantCtx.Tenant.ID, c.Query("client_id"))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_client", "error_description": "Unknown client."})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// UpdateClient handles PUT /oauth/register?client_id=.
func (h *OAuthHandler) UpdateClient(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	var req service.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_client_metadata", "error_description": "Request body must be a JSON client metadata document."})
		return
	}

	resp, err := h.Registry.Update(c.Request.Context(), tenantCtx.Tenant.ID, c.Query("client_id"), req)
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_client", "error_description": "Unknown client."})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RevokeClient handles DELETE /oauth/register?client_id=.
func (h *OAuthHandler) RevokeClient(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	resp, err := h.Registry.Revoke(c.Request.Context(), tenantCtx.Tenant.ID, c.Query("client_id"))
	if err != nil {
		respondOAuthError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid_client", "error_description": "Unknown client."})
		return
	}
	zap.L().Info("client revoked via registry API", zap.String("client_id", c.Query("client_id")))
	c.Status(http.StatusNoContent)
}

// ServerMetadata handles GET /.well-known/oauth-authorization-server
// (RFC 8414).
func (h *OAuthHandler) ServerMetadata(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Discovery.ServerMetadata(tenantCtx.Tenant, tenantCtx.Issuer))
}

// ResourceMetadata handles GET /.well-known/oauth-protected-resource
// (RFC 9728).
func (h *OAuthHandler) ResourceMetadata(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.Discovery.ResourceMetadata(tenantCtx.Tenant, tenantCtx.Issuer))
}

// UserInfo handles GET /oauth/userinfo with a bearer access token.
func (h *OAuthHandler) UserInfo(c *gin.Context) {
	tenantCtx, ok := tenantOr404(c)
	if !ok {
		return
	}

	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.Header("WWW-Authenticate", `Bearer realm="oauth"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	token, err := h.Introspect.Validate(c.Request.Context(), tenantCtx.Tenant, parts[1])
	if err != nil {
		c.Header("WWW-Authenticate", `Bearer realm="oauth", error="invalid_token"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
		return
	}

	resp := gin.H{"client_id": token.ClientID, "scope": token.Scope}
	if token.UserID != nil {
		resp["sub"] = *token.UserID
	}
	c.JSON(http.StatusOK, resp)
}
