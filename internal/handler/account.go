package handler // HTTP handlers for the auth and account endpoints

import (
	"net/http" // HTTP status codes
	"strconv"  // path parameter parsing
	"time"     // session timestamps

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/auth-session-service/internal/apperr"     // typed request errors
	"github.com/iliyamo/auth-session-service/internal/middleware" // authenticated user id
	"github.com/iliyamo/auth-session-service/internal/model"      // domain types rendered as views
	"github.com/iliyamo/auth-session-service/internal/service"    // account operations
	"github.com/iliyamo/auth-session-service/internal/utils"      // refresh token hashing for session ids
)

// AccountHandler serves the authenticated /v1/account endpoints and the
// admin session view.
type AccountHandler struct {
	auth    *service.AuthService
	cookies Cookies
}

func NewAccountHandler(auth *service.AuthService, cookies Cookies) *AccountHandler {
	return &AccountHandler{auth: auth, cookies: cookies}
}

// ----- DTOs -----

type profileReq struct {
	Name     string  `json:"name" validate:"required,max=150"`
	Bio      *string `json:"bio"`
	URL      *string `json:"url" validate:"omitempty,url"`
	Pronouns *string `json:"pronouns" validate:"omitempty,oneof=He She They DontSpecify"`
	Gender   *string `json:"gender" validate:"omitempty,oneof=Male Female"`
}

type userView struct {
	ID            uint64     `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	EmailVerified *time.Time `json:"email_verified"`
	Role          string     `json:"role"`
	OAuthProvider *string    `json:"oauth_provider"`
	Name          string     `json:"name"`
	Bio           *string    `json:"bio"`
	URL           *string    `json:"url"`
	Pronouns      *string    `json:"pronouns"`
	Gender        *string    `json:"gender"`
	CreatedAt     time.Time  `json:"created_at"`
}

type sessionView struct {
	ID        string `json:"id"`
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	LoginTime string `json:"login_time"`
}

func userViewOf(u model.User) userView {
	v := userView{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Role:          u.Role,
		Name:          u.Profile.Name,
		Bio:           u.Profile.Bio,
		URL:           u.Profile.URL,
		Pronouns:      u.Profile.Pronouns,
		Gender:        u.Profile.Gender,
		CreatedAt:     u.CreatedAt,
	}
	if u.OAuthProvider != nil {
		p := string(*u.OAuthProvider)
		v.OAuthProvider = &p
	}
	return v
}

// sessionViews hides refresh tokens; the id is the hash used in the store key.
func sessionViews(in []model.Session) []sessionView {
	out := make([]sessionView, 0, len(in))
	for _, s := range in {
		out = append(out, sessionView{
			ID:        utils.HashToken(s.RefreshToken),
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			LoginTime: s.LoginTime,
		})
	}
	return out
}

type accountResp struct {
	User     userView      `json:"user"`
	Sessions []sessionView `json:"sessions,omitempty"`
}

// Account returns the signed-in user and its live sessions.
func (h *AccountHandler) Account(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	u, sessions, err := h.auth.Account(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "User found", accountResp{User: userViewOf(u), Sessions: sessionViews(sessions)})
}

// UpdateAccount replaces the profile fields.  Requires a verified email.
func (h *AccountHandler) UpdateAccount(c echo.Context) error {
	var req profileReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	u, err := h.auth.UpdateProfile(ctx, middleware.UserID(c), model.Profile{
		Name:     req.Name,
		Bio:      req.Bio,
		URL:      req.URL,
		Pronouns: req.Pronouns,
		Gender:   req.Gender,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Update profile successful", accountResp{User: userViewOf(u)})
}

// DeleteAccount soft-deletes the account and ends every session.
func (h *AccountHandler) DeleteAccount(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.DeleteAccount(ctx, middleware.UserID(c)); err != nil {
		return err
	}
	h.cookies.ClearRefresh(c)
	return c.NoContent(http.StatusNoContent)
}

// SendVerificationEmail queues a new verification email.
func (h *AccountHandler) SendVerificationEmail(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.SendVerificationEmail(ctx, middleware.UserID(c)); err != nil {
		return err
	}
	return respond(c, http.StatusAccepted, "Verification email request accepted", nil)
}

// SignoutAll ends every session of the signed-in user.
func (h *AccountHandler) SignoutAll(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	n, err := h.auth.SignoutAll(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}
	h.cookies.ClearRefresh(c)
	return respond(c, http.StatusOK, "Signed out everywhere", map[string]int{"revoked": n})
}

// UserSessions lists the sessions of any user.  Admin only.
func (h *AccountHandler) UserSessions(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return apperr.Validation("Validation failed", "id must be a positive integer")
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	sessions, err := h.auth.Sessions(ctx, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Sessions found", map[string]any{"sessions": sessionViews(sessions)})
}
