package handler // HTTP handlers for the auth and account endpoints

import (
	"errors"   // error matching
	"net/http" // redirect status and cookies

	"github.com/google/uuid"      // random state values
	"github.com/labstack/echo/v4" // Echo framework for HTTP routing
	"go.uber.org/zap"             // structured logging

	"github.com/iliyamo/auth-session-service/internal/apperr" // typed request errors
	"github.com/iliyamo/auth-session-service/internal/oauth"  // provider registry and code exchange
)

// OAuthHandler runs the authorization code flow for the configured
// providers.  The state value travels in a signed, short-lived cookie.
type OAuthHandler struct {
	providers oauth.Registry
	auth      *AuthHandler
	cookies   Cookies
	log       *zap.Logger
}

func NewOAuthHandler(providers oauth.Registry, auth *AuthHandler, cookies Cookies, log *zap.Logger) *OAuthHandler {
	return &OAuthHandler{providers: providers, auth: auth, cookies: cookies, log: log.With(zap.String("component", "oauth_handler"))}
}

func (h *OAuthHandler) provider(c echo.Context) (*oauth.Provider, error) {
	p, ok := h.providers.Get(c.Param("provider"))
	if !ok {
		return nil, apperr.NotFound("Resources not found")
	}
	return p, nil
}

func stateCookiePath(p *oauth.Provider) string {
	return "/v1/auth/" + string(p.Name)
}

// Begin redirects the browser to the provider's consent page.
func (h *OAuthHandler) Begin(c echo.Context) error {
	p, err := h.provider(c)
	if err != nil {
		return err
	}
	state := uuid.NewString()
	h.cookies.set(c, oauthStateCookie, state, stateCookiePath(p), oauthStateTTL)
	return c.Redirect(http.StatusFound, p.AuthCodeURL(state))
}

// Callback exchanges the code, links or creates the account and signs in.
func (h *OAuthHandler) Callback(c echo.Context) error {
	p, err := h.provider(c)
	if err != nil {
		return err
	}
	want := h.cookies.get(c, oauthStateCookie)
	h.cookies.clear(c, oauthStateCookie, stateCookiePath(p))
	if want == "" || c.QueryParam("state") != want {
		return apperr.Unauthorized("Sign in failed", "Invalid OAuth state")
	}
	if e := c.QueryParam("error"); e != "" {
		return apperr.Unauthorized("Sign in failed", "Authorization denied")
	}
	code := c.QueryParam("code")
	if code == "" {
		return apperr.Validation("Validation failed", "code is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	prof, err := p.Profile(ctx, code)
	if errors.Is(err, oauth.ErrNoEmail) {
		return apperr.Unauthorized("Sign in failed", "Email permission is required").Wrap(err)
	}
	if err != nil {
		h.log.Warn("oauth exchange failed", zap.String("provider", string(p.Name)), zap.Error(err))
		return apperr.Unauthorized("Sign in failed", "Provider rejected the authorization code").Wrap(err)
	}

	res, err := h.auth.auth.OAuthSignin(ctx, prof, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return err
	}
	return h.auth.signedIn(c, res)
}
