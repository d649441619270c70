// Package wsclient drives a single reconnecting WebSocket connection to an
// echo server and reports its lifecycle to a display surface.
package wsclient

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 3 * time.Second

	commandBuffer = 256
	closeNormal   = 1000
)

// Options configures a Controller. Zero values select the defaults; a negative
// MaxReconnectAttempts disables automatic reconnects.
type Options struct {
	// Origin is the page origin the socket URL is derived from,
	// e.g. "http://127.0.0.1:8000".
	Origin               string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

func (o Options) withDefaults() Options {
	switch {
	case o.MaxReconnectAttempts == 0:
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	case o.MaxReconnectAttempts < 0:
		o.MaxReconnectAttempts = 0
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	return o
}

// Controller owns one socket handle, the connection state and the reconnect
// counter. Every field below the channels is touched only by the loop
// goroutine: public methods, socket callbacks and reconnect timers all run as
// commands on that loop.
type Controller struct {
	opts    Options
	dialer  Dialer
	surface Surface

	commands  chan func()
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	state    State
	socket   Socket
	handle   uint64
	attempts int
	// set by Disconnect, cleared by Connect; pending reconnects check it
	stopped bool
}

// NewController starts the controller loop. It does not connect; call Connect.
func NewController(opts Options, dialer Dialer, surface Surface) *Controller {
	c := &Controller{
		opts:     opts.withDefaults(),
		dialer:   dialer,
		surface:  surface,
		commands: make(chan func(), commandBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.commands:
			fn()
		case <-c.closing:
			c.disconnect()
			return
		}
	}
}

func (c *Controller) enqueue(fn func()) {
	select {
	case c.commands <- fn:
	case <-c.closing:
	}
}

// call runs fn on the loop and waits for it. It reports false once the
// controller is closed.
func (c *Controller) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case c.commands <- func() {
		fn()
		close(finished)
	}:
	case <-c.closing:
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// Connect opens a new socket, discarding the current one if any.
func (c *Controller) Connect() { c.call(c.connect) }

// Send transmits text if the connection is open. Empty text and sends while
// not connected are ignored.
func (c *Controller) Send(text string) { c.call(func() { c.send(text) }) }

// Disconnect closes the socket cleanly and cancels automatic reconnects until
// the next Connect.
func (c *Controller) Disconnect() { c.call(c.disconnect) }

// State returns the current connection state.
func (c *Controller) State() State {
	s := StateDisconnected
	c.call(func() { s = c.state })
	return s
}

// Attempts returns the reconnect counter.
func (c *Controller) Attempts() int {
	var n int
	c.call(func() { n = c.attempts })
	return n
}

// Close disconnects and stops the loop. It is safe to call more than once.
func (c *Controller) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
	<-c.done
}

func (c *Controller) connect() {
	c.stopped = false
	c.detach()

	target, err := TargetURL(c.opts.Origin)
	if err == nil {
		c.handle++
		var sock Socket
		sock, err = c.dialer.Open(target, c.handlers(c.handle))
		if err == nil {
			c.socket = sock
		}
	}
	if err != nil {
		c.state = StateDisconnected
		log.Warn().Err(err).Str("origin", c.opts.Origin).Msg("[client] connection error")
		c.surface.AppendSystem(fmt.Sprintf("Connection error: %v", err))
		c.surface.SetStatus("Connection failed", StatusDisconnected)
		return
	}

	log.Info().Str("url", target).Msg("[client] connecting")
	c.state = StateConnecting
	c.surface.SetStatus("Connecting...", StatusConnecting)
}

// detach closes the current handle and drops it, so any event it still
// delivers is ignored.
func (c *Controller) detach() {
	if c.socket == nil {
		return
	}
	if err := c.socket.Close(); err != nil {
		log.Debug().Err(err).Msg("[client] close socket")
	}
	c.socket = nil
	c.handle++
}

func (c *Controller) handlers(id uint64) Handlers {
	return Handlers{
		OnOpen: func() {
			c.dispatch(id, c.handleOpen)
		},
		OnMessage: func(data string) {
			c.dispatch(id, func() { c.handleMessage(data) })
		},
		OnClose: func(wasClean bool, code int) {
			c.dispatch(id, func() { c.handleClose(wasClean, code) })
		},
		OnError: func(err error) {
			c.dispatch(id, func() { c.handleError(err) })
		},
	}
}

func (c *Controller) dispatch(id uint64, fn func()) {
	c.enqueue(func() {
		if id != c.handle || c.socket == nil {
			log.Debug().Uint64("handle", id).Msg("[client] event from discarded socket")
			return
		}
		fn()
	})
}

func (c *Controller) handleOpen() {
	c.state = StateConnected
	c.attempts = 0
	log.Info().Msg("[client] connected")
	c.surface.SetStatus("Connected", StatusConnected)
	c.surface.SetInputEnabled(true)
	c.surface.AppendSystem("Connected to server")
}

func (c *Controller) handleMessage(data string) {
	c.surface.AppendReceived(data)
}

func (c *Controller) handleError(err error) {
	log.Debug().Err(err).Msg("[client] websocket error")
	c.surface.AppendSystem("WebSocket error occurred")
}

func (c *Controller) handleClose(wasClean bool, code int) {
	c.socket = nil
	c.state = StateDisconnected
	log.Info().Bool("clean", wasClean).Int("code", code).Msg("[client] disconnected")
	c.surface.SetStatus("Disconnected", StatusDisconnected)
	c.surface.SetInputEnabled(false)
	c.surface.AppendSystem("Disconnected from server")

	if !wasClean && c.attempts < c.opts.MaxReconnectAttempts {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms a timer that reconnects only if the controller is
// still disconnected when it fires. Timers are never cancelled, so a manual
// Connect during the delay can leave an older timer pending; the fire-time
// check makes it a no-op once a connection is up.
func (c *Controller) scheduleReconnect() {
	c.attempts++
	c.surface.AppendSystem(fmt.Sprintf("Attempting to reconnect... (%d/%d)", c.attempts, c.opts.MaxReconnectAttempts))
	time.AfterFunc(c.opts.ReconnectDelay, func() {
		c.enqueue(c.reconnect)
	})
}

func (c *Controller) reconnect() {
	if c.state != StateDisconnected || c.stopped {
		log.Debug().Stringer("state", c.state).Bool("stopped", c.stopped).Msg("[client] reconnect skipped")
		return
	}
	c.connect()
}

func (c *Controller) send(text string) {
	msg := strings.TrimSpace(text)
	if msg == "" || c.state != StateConnected || c.socket == nil {
		log.Debug().Bool("has_message", msg != "").Stringer("state", c.state).Msg("[client] message not sent")
		return
	}
	if err := c.socket.Send(msg); err != nil {
		log.Warn().Err(err).Msg("[client] send failed")
		c.surface.AppendSystem(fmt.Sprintf("Failed to send message: %v", err))
		return
	}
	c.surface.AppendSent(msg)
	c.surface.ClearInput()
}

func (c *Controller) disconnect() {
	c.stopped = true
	if c.socket == nil {
		return
	}
	c.detach()
	c.handleClose(true, closeNormal)
}
