package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionTokenExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.True(t, ActionToken{ExpiresAt: now}.ExpiredAt(now), "expiry equal to now is expired")
	assert.True(t, ActionToken{ExpiresAt: now.Add(-time.Second)}.ExpiredAt(now))
	assert.False(t, ActionToken{ExpiresAt: now.Add(time.Second)}.ExpiredAt(now))
}

func TestSessionLoggedInAt(t *testing.T) {
	s := Session{LoginTime: "2026-01-02 03:04:05"}
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), s.LoggedInAt())
	assert.True(t, Session{LoginTime: "yesterday"}.LoggedInAt().IsZero())
}

func TestUserFlags(t *testing.T) {
	p := ProviderGoogle
	id := "g-1"
	assert.True(t, User{OAuthProvider: &p, OAuthID: &id}.IsFederated())
	assert.False(t, User{}.IsFederated())
	assert.True(t, ProviderFacebook.Valid())
	assert.False(t, OAuthProvider("github").Valid())
}
