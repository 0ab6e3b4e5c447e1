package handler // HTTP handlers for the auth and account endpoints

import (
	"net/http" // cookie type and SameSite modes
	"strings"  // SameSite parsing
	"time"     // cookie expiry

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/auth-session-service/internal/config" // cookie settings
	"github.com/iliyamo/auth-session-service/internal/utils"  // cookie signing
)

const (
	refreshCookie    = "refresh_token"
	oauthStateCookie = "oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// Cookies writes and reads the signed cookies the API hands out.
type Cookies struct {
	secret   []byte
	secure   bool
	sameSite http.SameSite
}

func NewCookies(cfg config.CookieConfig) Cookies {
	sameSite := http.SameSiteLaxMode
	if strings.EqualFold(cfg.SameSite, "strict") {
		sameSite = http.SameSiteStrictMode
	}
	return Cookies{secret: cfg.Secret, secure: cfg.Secure, sameSite: sameSite}
}

func (k Cookies) set(c echo.Context, name, value, path string, maxAge time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    utils.SignCookie(value, k.secret),
		Path:     path,
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		Secure:   k.secure,
		SameSite: k.sameSite,
	})
}

func (k Cookies) clear(c echo.Context, name, path string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   k.secure,
		SameSite: k.sameSite,
	})
}

// get returns the verified value of a signed cookie, or "" when the cookie is
// absent or tampered with.
func (k Cookies) get(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	v, ok := utils.UnsignCookie(ck.Value, k.secret)
	if !ok {
		return ""
	}
	return v
}

func (k Cookies) SetRefresh(c echo.Context, token string, ttl time.Duration) {
	k.set(c, refreshCookie, token, "/", ttl)
}

func (k Cookies) Refresh(c echo.Context) string { return k.get(c, refreshCookie) }

func (k Cookies) ClearRefresh(c echo.Context) { k.clear(c, refreshCookie, "/") }
