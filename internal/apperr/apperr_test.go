package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindUnauthorized:    http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindConflict:        http.StatusConflict,
		KindTooManyRequests: http.StatusTooManyRequests,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.Status())
	}
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := errors.New("token is expired")
	base := Unauthorized("Access expired")
	err := fmt.Errorf("verify: %w", base.Wrap(cause))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.Nil(t, base.Err, "Wrap must not mutate the receiver")

	ae, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "Access expired", ae.Message)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	_, ok := As(nil)
	assert.False(t, ok)
}
