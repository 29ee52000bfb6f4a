package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telemlink/pkg/engine"
	"telemlink/pkg/metrics"
	"telemlink/pkg/protocol"
)

// StatsSource is the decode pipeline as seen by the feed.
type StatsSource interface {
	Stats() protocol.Stats
	Buffered() int
	HubDropped() uint64
	ResetStats(ctx context.Context) error
}

// Server pushes decoded records to websocket clients and answers polling
// requests from the history ring.
type Server struct {
	cfg     Config
	hub     *engine.Hub
	history *engine.History
	stats   StatsSource
	layout  *protocol.FieldLayout
	logger  zerolog.Logger
	router  *mux.Router

	clients map[*client]struct{}
	mu      sync.RWMutex

	// dropped counts messages lost to clients whose send queue was full.
	dropped atomic.Uint64
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHistory(h *engine.History) Option {
	return func(s *Server) {
		s.history = h
	}
}

func WithStats(src StatsSource) Option {
	return func(s *Server) {
		s.stats = src
	}
}

func NewServer(cfg Config, hub *engine.Hub, layout *protocol.FieldLayout, opts ...Option) *Server {
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaults.SendBuf
	}
	if cfg.RecordsLimit <= 0 {
		cfg.RecordsLimit = defaults.RecordsLimit
	}

	s := &Server{
		cfg:     cfg,
		hub:     hub,
		layout:  layout,
		logger:  zerolog.Nop(),
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.configureRouter()
	return s
}

func (s *Server) configureRouter() {
	s.router = mux.NewRouter()
	s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Kept on the root router so a method mismatch answers 405, not 404.
	s.router.HandleFunc("/api/stats", s.handleStats()).Methods("GET")
	s.router.HandleFunc("/api/stats/reset", s.handleStatsReset()).Methods("POST")
	s.router.HandleFunc("/api/records", s.handleRecords()).Methods("GET")
	s.router.HandleFunc("/api/records/latest", s.handleLatest()).Methods("GET")
	s.router.HandleFunc("/api/layout", s.handleLayout()).Methods("GET")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on cfg.Addr and broadcasts hub records until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("feed listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if s.hub != nil {
		go s.Broadcast(ctx, s.hub.Subscribe())
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("feed listening")
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeAll()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Broadcast forwards records from sub to every connected client until ctx
// ends or sub is closed.
func (s *Server) Broadcast(ctx context.Context, sub <-chan protocol.Record) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub:
			if !ok {
				return
			}
			s.publish(RecordMsg{Op: OpRecord, Record: rec})
		}
	}
}

func (s *Server) publish(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn().Err(err).Msg("feed marshal failed")
		return
	}
	var dropped uint64
	for _, c := range s.snapshotClients() {
		if !c.trySend(payload) {
			dropped++
		}
	}
	s.countDrops(dropped)
}

func (s *Server) countDrops(n uint64) {
	if n == 0 {
		return
	}
	s.dropped.Add(n)
	metrics.RecordFeedDrops(n)
}

// Dropped counts messages dropped for slow websocket clients.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Registered before hello so a client that has read hello is sure to
	// see every later record. Nothing is written to it until writeLoop runs.
	c := newClient(conn, s.cfg.SendBuf)
	s.addClient(c)
	if err := conn.WriteJSON(s.hello()); err != nil {
		c.close()
		s.removeClient(c)
		return
	}
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client connected")

	go c.writeLoop()
	c.readLoop(s)

	c.close()
	s.removeClient(c)
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("feed client gone")
}

func (s *Server) hello() HelloMsg {
	name := ""
	if s.layout != nil {
		name = s.layout.Name()
	}
	return HelloMsg{
		Op:        OpHello,
		Layout:    name,
		Fields:    fieldInfos(s.layout),
		SessionID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
	}
}

func (s *Server) snapshotStats() StatsMsg {
	msg := StatsMsg{Clients: s.clientCount(), FeedDropped: s.Dropped()}
	if s.layout != nil {
		msg.Layout = s.layout.Name()
	}
	if s.stats != nil {
		msg.Decoder = s.stats.Stats()
		msg.Buffered = s.stats.Buffered()
		msg.HubDropped = s.stats.HubDropped()
	}
	if s.history != nil {
		msg.HistoryTotal = s.history.Total()
	}
	return msg
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.snapshotStats())
	}
}

func (s *Server) handleStatsReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.stats == nil {
			http.Error(w, "no decoder attached", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.stats.ResetStats(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, s.snapshotStats())
	}
}

func (s *Server) handleRecords() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			writeJSON(w, http.StatusOK, []protocol.Record{})
			return
		}
		n := s.cfg.RecordsLimit
		if raw := r.URL.Query().Get("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, fmt.Sprintf("invalid n: %q", raw), http.StatusBadRequest)
				return
			}
			n = min(parsed, s.cfg.RecordsLimit)
		}
		writeJSON(w, http.StatusOK, s.history.Snapshot(n))
	}
}

func (s *Server) handleLatest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.history == nil {
			http.Error(w, "no records yet", http.StatusNotFound)
			return
		}
		rec, ok := s.history.Latest()
		if !ok {
			http.Error(w, "no records yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *Server) handleLayout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.hello())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	metrics.SetFeedClients(n)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()
	metrics.SetFeedClients(n)
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeAll() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}

func newClient(conn *websocket.Conn, sendBuf int) *client {
	if sendBuf <= 0 {
		sendBuf = DefaultConfig().SendBuf
	}
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuf),
	}
}

func (c *client) readLoop(s *Server) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Op == OpStats {
			stats := s.snapshotStats()
			stats.Op = OpStats
			payload, err := json.Marshal(stats)
			if err != nil {
				continue
			}
			if !c.trySend(payload) {
				s.countDrops(1)
			}
		}
	}
}

func (c *client) writeLoop() {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}

// trySend drops msg when the client is behind and reports whether it was
// queued. The recover covers a send racing with close.
func (c *client) trySend(msg []byte) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}
