package main

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultHistoryPage = 50
	shutdownGrace      = 5 * time.Second
)

// hub tracks live sessions and the recent echo history.
type hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	history  []entry
	limit    int
	store    *transcriptStore
	metrics  *echoMetrics
	closing  bool
	wg       sync.WaitGroup
}

func newHub(limit int) *hub {
	return &hub{
		sessions: map[string]*session{},
		history:  make([]entry, 0, limit),
		limit:    limit,
		metrics:  newEchoMetrics(),
	}
}

// attachStore connects a persistent store to the hub.
func (h *hub) attachStore(s *transcriptStore) {
	h.mu.Lock()
	h.store = s
	h.mu.Unlock()
}

// bootstrap preloads history into the in-memory buffer.
func (h *hub) bootstrap(entries []entry) {
	h.mu.Lock()
	h.history = append(h.history, entries...)
	h.trimLocked()
	h.mu.Unlock()
}

func (h *hub) trimLocked() {
	if h.limit > 0 && len(h.history) > h.limit {
		h.history = append(h.history[:0], h.history[len(h.history)-h.limit:]...)
	}
	if h.limit == 0 {
		h.history = h.history[:0]
	}
}

// enter reserves a handler slot in wg; it fails once closeAll has run.
func (h *hub) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *hub) add(s *session) bool {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.metrics.connections.Inc()
	h.metrics.sessions.Inc()
	log.Info().Str("session", s.id).Msgf("[echo] client connected, total connections: %d", n)
	return true
}

func (h *hub) remove(s *session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		h.metrics.connections.Dec()
		log.Info().Str("session", s.id).Msgf("[echo] client disconnected, total connections: %d", n)
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *hub) record(sessionID, text string, size int) {
	e := entry{TS: time.Now().UTC(), Session: sessionID, Text: text}
	h.mu.Lock()
	h.history = append(h.history, e)
	h.trimLocked()
	store := h.store
	h.mu.Unlock()
	h.metrics.messages.Inc()
	h.metrics.bytes.Add(float64(size))
	if err := store.Append(e); err != nil {
		log.Debug().Err(err).Msg("[echo] persist entry")
	}
}

// recent returns up to n of the newest entries, oldest first.
func (h *hub) recent(n int) []entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	return append([]entry(nil), h.history[len(h.history)-n:]...)
}

// closeAll asks every session to close (used during shutdown) and drops the
// ones that do not answer within shutdownGrace. Sessions arriving afterwards
// are refused.
func (h *hub) closeAll() {
	h.mu.Lock()
	h.closing = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.goAway(websocket.CloseGoingAway, "server shutdown")
		time.AfterFunc(shutdownGrace, s.close)
	}
}

// wait blocks until all websocket handler goroutines have finished.
func (h *hub) wait() {
	h.wg.Wait()
}

// serve runs a session on an upgraded conn until it closes. Once closeAll has
// run the conn is sent a 1001 close and dropped.
func (h *hub) serve(conn *websocket.Conn) {
	s := newSession(uuid.NewString(), conn, h)
	if !h.add(s) {
		s.goAway(websocket.CloseGoingAway, "server shutdown")
		s.close()
		return
	}

	go s.writeLoop()
	s.readLoop()
}

func handleWS(w http.ResponseWriter, r *http.Request, h *hub) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	if !h.enter() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("[echo] upgrade websocket")
		return
	}
	h.serve(conn)
}

func serveHealth(w http.ResponseWriter, _ *http.Request, h *hub) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}{Status: "healthy", Connections: h.count()})
}

func serveHistory(w http.ResponseWriter, r *http.Request, h *hub) {
	limit := defaultHistoryPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.recent(limit))
}

func serveIndex(w http.ResponseWriter, _ *http.Request, name string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexTmpl.Execute(w, struct{ Name string }{Name: name})
}

// NewHandler builds the echo HTTP router (UI, websocket, health, metrics).
func NewHandler(name string, h *hub) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) { serveIndex(w, r, name) })
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) { handleWS(w, r, h) })
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { serveHealth(w, r, h) })
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/history", func(w http.ResponseWriter, r *http.Request) { serveHistory(w, r, h) })
	r.Method(http.MethodGet, "/metrics", h.metrics.handler())
	return r
}

var indexTmpl = template.Must(template.New("echo").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>WebSocket Echo Client - {{.Name}}</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, sans-serif; background:#f9f9f9; padding:32px; }
    .card { max-width:720px; margin:0 auto; background:white; border-radius:12px; padding:24px; box-shadow:0 2px 6px rgba(0,0,0,0.1); }
    .status { display:inline-block; padding:4px 10px; border-radius:999px; font-weight:700; font-size:14px }
    .status.connected { background:#ecfdf5; color:#065f46 }
    .status.connecting { background:#fef3c7; color:#92400e }
    .status.disconnected { background:#fee2e2; color:#b91c1c }
    #messages { height:320px; overflow:auto; border:1px solid #e5e7eb; border-radius:8px; padding:8px; margin:12px 0 }
    .message { padding:2px 0; white-space:pre-wrap; word-break:break-word }
    .message.sent { color:#1d4ed8 }
    .message.system { color:#6b7280; font-style:italic }
    .row { display:flex; gap:8px }
    #messageInput { flex:1 1 auto; padding:8px }
  </style>
</head>
<body>
  <div class="card">
    <h1>WebSocket Echo Client</h1>
    <div id="status" class="status connecting">Connecting...</div>
    <div id="messages"></div>
    <div class="row">
      <input id="messageInput" type="text" placeholder="Type a message" disabled />
      <button id="sendButton" disabled>Send</button>
    </div>
  </div>
  <script>
  (function(){
    const maxAttempts = 5, delay = 3000;
    const statusEl = document.getElementById('status');
    const input = document.getElementById('messageInput');
    const button = document.getElementById('sendButton');
    const list = document.getElementById('messages');
    let ws = null, connected = false, attempts = 0;

    function add(text, cls){
      const el = document.createElement('div');
      el.className = 'message ' + cls;
      el.textContent = text;
      list.appendChild(el);
      list.scrollTop = list.scrollHeight;
    }
    function status(text, cls){ statusEl.textContent = text; statusEl.className = 'status ' + cls; }
    function enable(on){ input.disabled = !on; button.disabled = !on; }

    function connect(){
      const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
      try { ws = new WebSocket(proto + '//' + location.host + '/ws'); }
      catch (e) { add('Connection error: ' + e.message, 'system'); status('Connection failed', 'disconnected'); return; }
      status('Connecting...', 'connecting');
      ws.onopen = function(){ connected = true; attempts = 0; status('Connected', 'connected'); enable(true); add('Connected to server', 'system'); input.focus(); };
      ws.onmessage = function(ev){ add('Server: ' + ev.data, 'received'); };
      ws.onerror = function(){ add('WebSocket error occurred', 'system'); };
      ws.onclose = function(ev){
        connected = false; status('Disconnected', 'disconnected'); enable(false); add('Disconnected from server', 'system');
        if (!ev.wasClean && attempts < maxAttempts) {
          attempts++;
          add('Attempting to reconnect... (' + attempts + '/' + maxAttempts + ')', 'system');
          setTimeout(function(){ if (!connected) connect(); }, delay);
        }
      };
    }
    function send(){
      const text = input.value.trim();
      if (!text || !connected) return;
      try { ws.send(text); add('You: ' + text, 'sent'); input.value = ''; }
      catch (e) { add('Failed to send message: ' + e.message, 'system'); }
    }
    input.addEventListener('keypress', function(e){ if (e.key === 'Enter') send(); });
    button.addEventListener('click', send);
    window.addEventListener('beforeunload', function(){ if (ws) ws.close(); });
    connect();
  })();
  </script>
</body>
</html>`))
