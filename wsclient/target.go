package wsclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// SocketPath is the echo endpoint path on the page host.
const SocketPath = "/ws"

// ErrInvalidTarget is returned when a socket URL cannot be built or dialed.
var ErrInvalidTarget = errors.New("invalid websocket target")

// TargetURL maps a page origin such as "https://example.org" onto the socket
// URL for the same host, using wss for secure pages and ws otherwise.
func TargetURL(origin string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: origin %q has no host", ErrInvalidTarget, origin)
	}
	scheme := "ws"
	if strings.EqualFold(u.Scheme, "https") || strings.EqualFold(u.Scheme, "wss") {
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: SocketPath}).String(), nil
}
