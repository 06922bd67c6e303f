package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf_UnwrapsThroughFmtWrapping(t *testing.T) {
	base := New(CodeForbidden, "no access")
	wrapped := fmt.Errorf("handler: %w", base)

	require.Equal(t, CodeForbidden, CodeOf(wrapped))
	require.True(t, IsCode(wrapped, CodeForbidden))
	require.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestWrap_KeepsCauseAndMeta(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodePanelRequestFailed, "start instance failed").WithMeta("operation", "start")

	require.ErrorIs(t, err, cause)
	require.Equal(t, "start", err.Meta["operation"])
	require.Contains(t, err.Error(), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeMissingParameters:       http.StatusBadRequest,
		CodeInvalidStatusTransition: http.StatusBadRequest,
		CodeUnauthorized:            http.StatusUnauthorized,
		CodeForbidden:               http.StatusForbidden,
		CodeNotFound:                http.StatusNotFound,
		CodePanelRequestFailed:      http.StatusBadGateway,
		CodePaymentFailed:           http.StatusBadGateway,
		CodeStartTimeout:            http.StatusGatewayTimeout,
		CodeInternal:                http.StatusInternalServerError,
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			require.Equal(t, want, HTTPStatus(code))
		})
	}
}
