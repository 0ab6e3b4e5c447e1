package model

// OAuthProfile is the identity returned by a federation provider after a
// successful authorization code exchange.
type OAuthProfile struct {
	Provider    OAuthProvider
	ID          string
	Email       string
	DisplayName string
}
