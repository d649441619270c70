package main

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	readLimit      = 1 << 20
	echoPrefix     = "Echo: "
)

// session is one websocket peer. readLoop echoes every text frame back
// through writeLoop, which owns all data writes on the connection.
type session struct {
	id     string
	conn   *websocket.Conn
	hub    *hub
	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newSession(id string, conn *websocket.Conn, h *hub) *session {
	return &session{
		id:   id,
		conn: conn,
		hub:  h,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (s *session) readLoop() {
	defer s.close()
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		typ, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("session", s.id).Msg("[echo] read message")
			}
			return
		}
		if typ != websocket.TextMessage {
			log.Debug().Str("session", s.id).Int("type", typ).Msg("[echo] non-text frame ignored")
			continue
		}
		text := string(payload)
		log.Info().Str("session", s.id).Msgf("[echo] received: %s", text)
		s.hub.record(s.id, text, len(payload))
		if !s.push([]byte(echoPrefix + text)) {
			return
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.close()
	}()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("session", s.id).Msg("[echo] write message")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// push hands a frame to writeLoop, blocking while the buffer is full.
// It reports false once the session is closed.
func (s *session) push(msg []byte) bool {
	select {
	case s.send <- msg:
		return true
	case <-s.done:
		return false
	}
}

// goAway asks the peer to close; safe to call alongside writeLoop.
func (s *session) goAway(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		log.Debug().Err(err).Str("session", s.id).Msg("[echo] write close")
	}
}

func (s *session) close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
	s.hub.remove(s)
	_ = s.conn.Close()
}
