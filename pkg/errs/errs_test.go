package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsKind(t *testing.T) {
	err := New(NotAuthenticated, "add-transaction", "keys required")
	wrapped := fmt.Errorf("submit transfer: %w", err)

	assert.ErrorIs(t, wrapped, NotAuthenticated)
	assert.NotErrorIs(t, wrapped, InvalidInput)
	assert.Equal(t, NotAuthenticated, KindOf(wrapped))
	assert.Equal(t, "keys required", Message(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(TransportError, "balance", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "connection refused", err.Message)
	assert.Equal(t, "balance: transport_error: connection refused", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "plain", Message(errors.New("plain")))
	assert.Equal(t, "", Message(nil))
}
