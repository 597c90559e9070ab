package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	// subscriberQueue is how many messages a subscriber may lag behind
	// before it is disconnected.
	subscriberQueue = 64

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server pushes event messages to WebSocket subscribers at /ws.
//
// Every subscriber owns a bounded queue drained by its handler goroutine.
// Publish never blocks: a subscriber whose queue overflows is disconnected
// and the others keep receiving.
type Server struct {
	addr     string
	snapshot func(ctx context.Context) (OutboxStatsData, error)
	logger   zerolog.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool

	ln   net.Listener
	http *http.Server
	done chan struct{}
	wg   sync.WaitGroup
}

type subscriber struct {
	conn   *websocket.Conn
	queue  chan []byte
	kicked chan struct{}
	once   sync.Once
}

func (sub *subscriber) kick() {
	sub.once.Do(func() { close(sub.kicked) })
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:7788). Port 0 picks a free port.
	Addr string

	// Snapshot, when set, provides the outbox_stats message sent to every
	// client right after it connects.
	Snapshot func(ctx context.Context) (OutboxStatsData, error)

	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7788",
		Logger: zerolog.Nop(),
	}
}

// NewServer creates a Server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	addr := config.Addr
	if addr == "" {
		addr = DefaultConfig().Addr
	}

	return &Server{
		addr:     addr,
		snapshot: config.Snapshot,
		logger:   config.Logger,
		subs:     make(map[*subscriber]struct{}),
		done:     make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.http.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("event server failed")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("event server listening")
	return nil
}

// Stop disconnects every subscriber and shuts the listener down. Calling it
// again is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("failed to shut down event server: %w", shutdownErr)
		}
	}

	// Hijacked WebSocket handlers are not tracked by Shutdown.
	s.wg.Wait()
	s.logger.Info().Msg("event server stopped")
	return err
}

// Publish implements Publisher.
func (s *Server) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("failed to marshal event")
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs {
		select {
		case sub.queue <- data:
		default:
			sub.kick()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := &subscriber{
		conn:   conn,
		queue:  make(chan []byte, subscriberQueue),
		kicked: make(chan struct{}),
	}
	if data := s.snapshotMessage(r.Context()); data != nil {
		sub.queue <- data
	}

	if !s.register(sub) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.wg.Done()
	defer s.unregister(sub)

	status, reason := s.pump(sub)
	_ = conn.Close(status, reason)
}

// pump writes queued messages until the subscriber leaves, falls behind or
// the server stops, and returns the close status to send.
func (s *Server) pump(sub *subscriber) (websocket.StatusCode, string) {
	// Inbound frames are discarded; gone ends when the client disconnects.
	gone := sub.conn.CloseRead(context.Background())

	for {
		select {
		case data := <-sub.queue:
			ctx, cancel := context.WithTimeout(gone, writeTimeout)
			err := sub.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Msg("event write failed")
				return websocket.StatusInternalError, "write failed"
			}
		case <-sub.kicked:
			s.logger.Warn().Msg("event subscriber fell behind, disconnecting")
			return websocket.StatusPolicyViolation, "too slow"
		case <-gone.Done():
			return websocket.StatusNormalClosure, ""
		case <-s.done:
			return websocket.StatusGoingAway, "server shutting down"
		}
	}
}

func (s *Server) snapshotMessage(ctx context.Context) []byte {
	if s.snapshot == nil {
		return nil
	}
	stats, err := s.snapshot(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read outbox snapshot")
		return nil
	}
	data, err := json.Marshal(OutboxStats(stats))
	if err != nil {
		return nil
	}
	return data
}

// register adds sub unless the server is stopping. Each registered
// subscriber holds one count on wg.
func (s *Server) register(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(1)
	s.logger.Debug().Int("clients", len(s.subs)).Msg("event subscriber connected")
	return true
}

func (s *Server) unregister(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	n := len(s.subs)
	s.mu.Unlock()
	s.logger.Debug().Int("clients", n).Msg("event subscriber disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
