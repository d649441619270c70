package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	closeWait        = 5 * time.Second
	readLimit        = 1 << 20
)

// ErrNotOpen is returned by Send on a socket that is not open.
var ErrNotOpen = errors.New("websocket is not open")

var errAborted = errors.New("websocket closed before the connection was established")

// Handlers receives the lifecycle events of one socket handle. For a given
// handle open fires at most once and before any message; close fires at most
// once and last; every error is eventually followed by close.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data string)
	OnClose   func(wasClean bool, code int)
	OnError   func(err error)
}

// Socket is a single full-duplex text connection.
type Socket interface {
	Send(text string) error
	// Close requests a clean close handshake.
	Close() error
}

// Dialer opens sockets. Open must return without waiting for the handshake;
// an error means the socket could not be constructed at all.
type Dialer interface {
	Open(target string, h Handlers) (Socket, error)
}

// GorillaDialer opens sockets with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d *GorillaDialer) Open(target string, h Handlers) (Socket, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &gorillaSocket{target: u.String(), handlers: h, cancel: cancel}
	go s.run(ctx, d.dialer(), d.Header)
	return s, nil
}

func (d *GorillaDialer) dialer() *websocket.Dialer {
	if d.Dialer != nil {
		return d.Dialer
	}
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
}

type gorillaSocket struct {
	target   string
	handlers Handlers
	cancel   context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
}

func (s *gorillaSocket) run(ctx context.Context, dialer *websocket.Dialer, header http.Header) {
	defer s.cancel()

	conn, resp, err := dialer.DialContext(ctx, s.target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			err = errAborted
		}
		s.emitError(err)
		s.emitClose(false, websocket.CloseAbnormalClosure)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		s.emitError(errAborted)
		s.emitClose(false, websocket.CloseAbnormalClosure)
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if s.handlers.OnOpen != nil {
		s.handlers.OnOpen()
	}
	s.readLoop(conn)
}

func (s *gorillaSocket) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()
	conn.SetReadLimit(readLimit)
	for {
		typ, payload, err := conn.ReadMessage()
		if err != nil {
			// gorilla reports a dropped connection as a 1006 CloseError; only a
			// received close frame is a clean close.
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				s.emitClose(true, ce.Code)
				return
			}
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.emitError(err)
			}
			s.emitClose(false, websocket.CloseAbnormalClosure)
			return
		}
		// text frames only
		if typ != websocket.TextMessage {
			continue
		}
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(string(payload))
		}
	}
}

func (s *gorillaSocket) emitError(err error) {
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *gorillaSocket) emitClose(wasClean bool, code int) {
	if s.handlers.OnClose != nil {
		s.handlers.OnClose(wasClean, code)
	}
}

func (s *gorillaSocket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closing {
		return ErrNotOpen
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *gorillaSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true
	if s.conn == nil {
		s.cancel()
		return nil
	}
	conn := s.conn
	// the peer echoes the close frame; give up waiting after closeWait
	time.AfterFunc(closeWait, func() { _ = conn.Close() })
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("write close frame: %w", err)
	}
	return nil
}
