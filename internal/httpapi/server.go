package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vocim/vocim/internal/config"
	"github.com/vocim/vocim/internal/observability"
	"github.com/vocim/vocim/internal/protocol"
	"github.com/vocim/vocim/internal/session"
)

// Engine runs one review session over a pair of message channels. Audio
// arrives as protocol.AudioFrame values, everything else as the parsed
// client structs; the engine's replies are written back on outbound.
type Engine interface {
	RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	engine   Engine
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, engine Engine, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		engine:   engine,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may open a mic session unless
				// the deployment explicitly opts out.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/review/ws", s.handleReviewWS)
	r.Get("/v1/review/sessions", s.handleActiveSessions)
	r.Post("/v1/review/sessions/{id}/end", s.handleForceEndSession)
	r.Get("/v1/eval/stats", s.handleEvalStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		*session.Session
		Stats session.Stats `json:"stats"`
	}
	active := s.sessions.Active()
	entries := make([]entry, 0, len(active))
	for _, sess := range active {
		entries = append(entries, entry{Session: sess, Stats: session.StatsFor(sess)})
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// handleForceEndSession drops a stuck session from the registry. The ws
// connection, if still open, notices on its next read deadline.
func (s *Server) handleForceEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("force_ended").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	respondJSON(w, http.StatusOK, sess)
}

// handleEvalStats exposes the rolling latency window per pipeline stage,
// for eyeballing responsiveness without a metrics stack.
func (s *Server) handleEvalStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotEvalStages())
}

// handleReviewWS upgrades the connection and bridges it to one engine run.
// Binary frames are PCM audio; text frames are JSON control messages. The
// engine owns outbound and closes it when the session is over.
func (s *Server) handleReviewWS(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "review engine not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount() + 1))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		defer close(outbound)
		_ = s.engine.RunConnection(ctx, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.SessionEvents.WithLabelValues("ws_write_error").Inc()
				cancel()
				return
			}
		}
	}()

	// Once the engine and writer are finished the session is over; closing
	// the socket unblocks the read loop below.
	go func() {
		<-writerDone
		cancel()
		_ = conn.Close()
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout()))

		var parsed any
		switch msgType {
		case websocket.BinaryMessage:
			parsed = protocol.AudioFrame{PCM: data}
			s.metrics.WSMessages.WithLabelValues("inbound", "audio_chunk").Inc()
		case websocket.TextMessage:
			parsed, err = protocol.ParseClientMessage(data)
			if err != nil {
				// The engine echoes these back; routing them through
				// inbound keeps websocket writes single-threaded.
				parsed = protocol.ErrorMessage{Type: protocol.TypeError, Message: "invalid message: " + err.Error()}
				s.metrics.WSMessages.WithLabelValues("inbound", "invalid").Inc()
				break
			}
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeOf(parsed))).Inc()
		default:
			continue
		}

		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) readTimeout() time.Duration {
	if s.cfg.SessionInactivityTimeout > 0 {
		return s.cfg.SessionInactivityTimeout
	}
	return 120 * time.Second
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
