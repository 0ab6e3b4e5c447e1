// Package oauth adapts Google and Facebook sign-in to a single Provider type
// built on golang.org/x/oauth2.  A provider turns an authorization code into
// a model.OAuthProfile; account linking is left to the service layer.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/iliyamo/auth-session-service/internal/config"
	"github.com/iliyamo/auth-session-service/internal/model"
)

const (
	googleUserInfoURL   = "https://www.googleapis.com/oauth2/v3/userinfo"
	facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email"
)

// ErrNoEmail is returned when the provider does not share an email address.
var ErrNoEmail = errors.New("oauth provider returned no email")

// Provider is one configured identity provider.
type Provider struct {
	Name        model.OAuthProvider
	Config      *oauth2.Config
	UserInfoURL string

	decode func(r io.Reader) (model.OAuthProfile, error)
}

// Google builds the Google provider; the callback is
// {callbackBase}/v1/auth/google/callback.
func Google(clientID, clientSecret, callbackBase string) *Provider {
	return &Provider{
		Name: model.ProviderGoogle,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Google,
			RedirectURL:  callbackURL(callbackBase, model.ProviderGoogle),
			Scopes:       []string{"openid", "profile", "email"},
		},
		UserInfoURL: googleUserInfoURL,
		decode:      decodeGoogle,
	}
}

// Facebook builds the Facebook provider.
func Facebook(clientID, clientSecret, callbackBase string) *Provider {
	return &Provider{
		Name: model.ProviderFacebook,
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoints.Facebook,
			RedirectURL:  callbackURL(callbackBase, model.ProviderFacebook),
			Scopes:       []string{"email", "public_profile"},
		},
		UserInfoURL: facebookUserInfoURL,
		decode:      decodeFacebook,
	}
}

func callbackURL(base string, p model.OAuthProvider) string {
	return strings.TrimRight(base, "/") + "/v1/auth/" + string(p) + "/callback"
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state)
}

// Profile exchanges code for a token and fetches the user's profile.
func (p *Provider) Profile(ctx context.Context, code string) (model.OAuthProfile, error) {
	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.UserInfoURL, nil)
	if err != nil {
		return model.OAuthProfile{}, err
	}
	resp, err := p.Config.Client(ctx, tok).Do(req)
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("user info request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.OAuthProfile{}, fmt.Errorf("user info status: %s", resp.Status)
	}

	prof, err := p.decode(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.OAuthProfile{}, fmt.Errorf("decode user info: %w", err)
	}
	prof.Provider = p.Name
	prof.Email = strings.ToLower(strings.TrimSpace(prof.Email))
	if prof.Email == "" {
		return model.OAuthProfile{}, ErrNoEmail
	}
	if prof.ID == "" {
		return model.OAuthProfile{}, errors.New("oauth provider returned no subject id")
	}
	return prof, nil
}

func decodeGoogle(r io.Reader) (model.OAuthProfile, error) {
	var tmp struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r).Decode(&tmp); err != nil {
		return model.OAuthProfile{}, err
	}
	return model.OAuthProfile{ID: tmp.Sub, Email: tmp.Email, DisplayName: tmp.Name}, nil
}

func decodeFacebook(r io.Reader) (model.OAuthProfile, error) {
	var tmp struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r).Decode(&tmp); err != nil {
		return model.OAuthProfile{}, err
	}
	return model.OAuthProfile{ID: tmp.ID, Email: tmp.Email, DisplayName: tmp.Name}, nil
}

// Registry holds the enabled providers by name.
type Registry map[model.OAuthProvider]*Provider

// NewRegistry enables every provider whose client id is configured.
func NewRegistry(cfg config.OAuthConfig) Registry {
	r := Registry{}
	if cfg.GoogleClientID != "" {
		r[model.ProviderGoogle] = Google(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.CallbackBaseURL)
	}
	if cfg.FacebookClientID != "" {
		r[model.ProviderFacebook] = Facebook(cfg.FacebookClientID, cfg.FacebookClientSecret, cfg.CallbackBaseURL)
	}
	return r
}

// Get returns the named provider if it is enabled.
func (r Registry) Get(name string) (*Provider, bool) {
	p, ok := r[model.OAuthProvider(strings.ToLower(name))]
	return p, ok
}
