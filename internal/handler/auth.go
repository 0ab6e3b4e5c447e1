package handler // HTTP handlers for the auth and account endpoints

import (
	"net/http" // HTTP status codes and primitives
	"strings"  // identifier normalisation

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing
	"go.uber.org/zap"             // structured logging

	"github.com/iliyamo/auth-session-service/internal/apperr"  // typed request errors
	"github.com/iliyamo/auth-session-service/internal/model"   // user fields in responses
	"github.com/iliyamo/auth-session-service/internal/service" // sign-in and token flows
)

// AuthHandler serves the sign-up, sign-in and token endpoints under /v1/auth.
type AuthHandler struct {
	auth    *service.AuthService
	cookies Cookies
	log     *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, cookies Cookies, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies, log: log.With(zap.String("component", "auth_handler"))}
}

// ----- DTOs -----

type signupReq struct {
	Name            string `json:"name" validate:"required,max=150"`
	Username        string `json:"username" validate:"required,min=5,max=50"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,max=72,strongpwd"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type signinReq struct {
	Username string `json:"username" validate:"omitempty,min=5,max=50"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type forgotPasswordReq struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordReq struct {
	Password        string `json:"password" validate:"required,min=8,max=72,strongpwd"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type userPart struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenPart struct {
	AccessToken  string `json:"access_token,omitempty"`
	CSRFToken    string `json:"csrf_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type signinResp struct {
	User  userPart  `json:"user"`
	Token tokenPart `json:"token"`
}

type tokenResp struct {
	Token tokenPart `json:"token"`
}

func userPartOf(u model.User) userPart {
	return userPart{ID: u.ID, Name: u.Profile.Name, Username: u.Username, Email: u.Email}
}

// Signup registers a password account.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body").Wrap(err)
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	u, err := h.auth.Signup(ctx, service.SignupInput{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "Signup successful", userPartOf(u))
}

// Signin checks credentials by email or username and starts a session.
func (h *AuthHandler) Signin(c echo.Context) error {
	var req signinReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body").Wrap(err)
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := c.Validate(&req); err != nil {
		return err
	}
	if (req.Email == "") == (req.Username == "") { // exactly one identifier
		return apperr.Validation("Validation failed", "Provide either email or username")
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.auth.Signin(ctx, service.SigninInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}
	return h.signedIn(c, res)
}

// signedIn sets the refresh cookie and writes the sign-in payload.  Shared by
// password and OAuth sign-in.
func (h *AuthHandler) signedIn(c echo.Context, res service.AuthResult) error {
	h.cookies.SetRefresh(c, res.RefreshToken, h.auth.RefreshTTL())
	return respond(c, http.StatusOK, "Signin successful", signinResp{
		User: userPartOf(res.User),
		Token: tokenPart{
			AccessToken:  res.AccessToken,
			CSRFToken:    res.CSRFToken,
			RefreshToken: res.RefreshToken,
		},
	})
}

// Refresh mints a new access token from the refresh cookie.
func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	res, err := h.auth.Refresh(ctx, h.cookies.Refresh(c))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Access extended", tokenResp{
		Token: tokenPart{AccessToken: res.AccessToken, CSRFToken: res.CSRFToken},
	})
}

// Signout ends the session of the refresh cookie.  It succeeds even when the
// session is already gone.
func (h *AuthHandler) Signout(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	csrf, err := h.auth.Signout(ctx, h.cookies.Refresh(c))
	if err != nil {
		return err
	}
	h.cookies.ClearRefresh(c)
	return respond(c, http.StatusOK, "Signout successful", tokenResp{Token: tokenPart{CSRFToken: csrf}})
}

// VerifyEmail consumes the emailed verification token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		return apperr.Validation("Validation failed", "token is required")
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.VerifyEmail(ctx, token); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "Email verified", nil)
}

// ForgotPassword always answers 202 so callers cannot learn which emails
// are registered.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordReq
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Invalid request body").Wrap(err)
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.ForgotPassword(ctx, req.Email); err != nil {
		h.log.Error("password reset request failed", zap.Error(err))
	}
	return respond(c, http.StatusAccepted, "Password reset request accepted", nil)
}

// ResetPassword sets a new password using the emailed reset token.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		return apperr.Validation("Validation failed", "token is required")
	}
	var req resetPasswordReq
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	if err := h.auth.ResetPassword(ctx, token, req.Password); err != nil {
		return err
	}
	h.cookies.ClearRefresh(c)
	return respond(c, http.StatusOK, "Password has been reset", nil)
}
