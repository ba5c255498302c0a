package upstreamclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/apperr"
)

func TestClassifyTransportError_DeadlineExceededIsUpstreamTimeout(t *testing.T) {
	err := classifyTransportError(context.DeadlineExceeded)

	require.True(t, apperr.Is(err, apperr.KindUpstreamTimeout))
}

func TestClassifyTransportError_ConnectionRefusedIsTokenAuthFailed(t *testing.T) {
	err := classifyTransportError(errors.New("dial tcp: connection refused"))

	require.True(t, apperr.Is(err, apperr.KindTokenAuthFailed))
}

func TestIsTimeout_WrappedDeadlineExceededIsTimeout(t *testing.T) {
	wrapped := errors.Join(errors.New("request failed"), context.DeadlineExceeded)

	require.True(t, isTimeout(wrapped))
}

func TestIsTimeout_PlainErrorIsNotTimeout(t *testing.T) {
	require.False(t, isTimeout(errors.New("connection reset by peer")))
}
