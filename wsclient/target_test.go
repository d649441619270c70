package wsclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetURL(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"http://127.0.0.1:8000", "ws://127.0.0.1:8000/ws"},
		{"https://echo.example.org", "wss://echo.example.org/ws"},
		{"HTTPS://echo.example.org:8443/some/page?q=1", "wss://echo.example.org:8443/ws"},
		{"ws://localhost:9000", "ws://localhost:9000/ws"},
		{"wss://localhost", "wss://localhost/ws"},
		{"  http://localhost:8000/  ", "ws://localhost:8000/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			got, err := TargetURL(tt.origin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetURLRejectsMalformedOrigin(t *testing.T) {
	for _, origin := range []string{"", "::bad", "localhost:8000/path", "http://"} {
		_, err := TargetURL(origin)
		assert.ErrorIs(t, err, ErrInvalidTarget, origin)
	}
}
