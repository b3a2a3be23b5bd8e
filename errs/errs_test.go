package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRendersAllFields(t *testing.T) {
	err := New("binance", CodeTransient,
		WithMessage("  upstream unreachable  "),
		WithHTTP(503),
		WithRawMessage("503 Service Unavailable"),
	)

	msg := err.Error()
	require.Contains(t, msg, "exchange=binance")
	require.Contains(t, msg, "code=transient")
	require.Contains(t, msg, "http=503")
	require.Contains(t, msg, `message="upstream unreachable"`)
	require.Contains(t, msg, `raw_msg="503 Service Unavailable"`)
}

func TestEnvelopeDefaultsForEmptyFields(t *testing.T) {
	msg := New("", "").Error()
	require.Contains(t, msg, "exchange=unknown")
	require.Contains(t, msg, "code=unknown")

	var nilErr *E
	require.Equal(t, "<nil>", nilErr.Error())
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("okx", CodeTransient, WithCause(cause))

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), `cause="connection reset"`)
}

func TestCodeOfWalksUnwrapChain(t *testing.T) {
	inner := New("bybit", CodeSubscriptionRejected, WithMessage("topic refused"))
	wrapped := fmt.Errorf("open liquidation stream: %w", inner)

	require.Equal(t, CodeSubscriptionRejected, CodeOf(inner))
	require.Equal(t, CodeSubscriptionRejected, CodeOf(wrapped))
}

func TestCodeOfForeignErrorIsInternal(t *testing.T) {
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestIsTransient(t *testing.T) {
	transient := fmt.Errorf("poll: %w", New("binance", CodeTransient))
	require.True(t, IsTransient(transient))
	require.False(t, IsTransient(New("binance", CodeMalformed)))
	require.False(t, IsTransient(errors.New("boom")))
}
