package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, limit int) (*httptest.Server, *hub) {
	t.Helper()
	h := newHub(limit)
	srv := httptest.NewServer(NewHandler("test-echo", h))
	t.Cleanup(srv.Close)
	return srv, h
}

func dialEcho(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, text string) string {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	return string(payload)
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestEchoPrefixesEveryFrame(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	conn := dialEcho(t, srv)

	assert.Equal(t, "Echo: Hello, WebSocket!", roundTrip(t, conn, "Hello, WebSocket!"))
	for _, m := range []string{"First message", "Second message", "Third message"} {
		assert.Equal(t, "Echo: "+m, roundTrip(t, conn, m))
	}
	assert.Equal(t, "Echo: ", roundTrip(t, conn, ""))
	assert.Equal(t, "Echo: héllo ✓", roundTrip(t, conn, "héllo ✓"))
}

func TestHealthCountsConnections(t *testing.T) {
	srv, _ := newTestServer(t, 10)

	health := func() int {
		var body struct {
			Status      string `json:"status"`
			Connections int    `json:"connections"`
		}
		require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
		require.Equal(t, "healthy", body.Status)
		return body.Connections
	}

	assert.Equal(t, 0, health())
	first := dialEcho(t, srv)
	dialEcho(t, srv)
	assert.Eventually(t, func() bool { return health() == 2 }, 2*time.Second, 10*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, first.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	assert.Eventually(t, func() bool { return health() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestIndexServesClientPage(t *testing.T) {
	srv, _ := newTestServer(t, 10)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "WebSocket Echo Client")
	assert.Contains(t, string(body), "test-echo")
}

func TestHistoryKeepsRecentEntries(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	conn := dialEcho(t, srv)
	for _, m := range []string{"a", "b", "c"} {
		roundTrip(t, conn, m)
	}

	var all []entry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/history", &all))
	assert.Equal(t, []string{"b", "c"}, texts(all))

	var one []entry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/history?limit=1", &one))
	require.Len(t, one, 1)
	assert.Equal(t, "c", one[0].Text)
	assert.NotEmpty(t, one[0].Session)

	for _, raw := range []string{"-3", "0", "x"} {
		assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/history?limit="+raw, &one), raw)
	}
}

func TestHistoryPersistsToStore(t *testing.T) {
	srv, h := newTestServer(t, 10)
	store, err := openTranscriptStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	h.attachStore(store)

	conn := dialEcho(t, srv)
	roundTrip(t, conn, "kept")

	got, err := store.LoadRecent(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, texts(got))
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t, 10)
	conn := dialEcho(t, srv)
	roundTrip(t, conn, "count me")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "portal_echo_messages_total 1")
	assert.Contains(t, string(body), "portal_echo_connections 1")
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	srv, h := newTestServer(t, 10)
	conn := dialEcho(t, srv)
	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.closeAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Eventually(t, func() bool { return h.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownRefusesNewSessions(t *testing.T) {
	srv, h := newTestServer(t, 10)
	h.closeAll()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Zero(t, h.count())

	done := make(chan struct{})
	go func() {
		h.wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait blocked after shutdown")
	}
}

func TestLateSessionGetsGoingAway(t *testing.T) {
	h := newHub(10)
	require.True(t, h.enter())
	h.closeAll()

	// a session that slipped past enter before shutdown is turned away on add
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.serve(conn)
		h.wg.Done()
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, h.count())
	h.wait()
}
