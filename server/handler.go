package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"node.town/hark/bridge"
	"node.town/hark/frame"
	"node.town/hark/hub"
	"node.town/hark/metrics"
)

// Handler routes the websocket endpoint, /healthz and, when enabled,
// /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	if s.config.Metrics {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Get(s.config.Path, s.serveWS)
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(
			"http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

type healthResponse struct {
	State      string `json:"state"`
	Clients    int    `json:"clients"`
	Recognizer bool   `json:"recognizer"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	state := s.State()
	resp := healthResponse{State: state.String(), Recognizer: s.bridge.Live()}

	if state == Running {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		n, err := s.hub.Clients(ctx)
		if err != nil {
			s.logger.Warn("count clients", "error", err)
		}
		resp.Clients = n
	}

	w.Header().Set("Content-Type", "application/json")
	if state != Running || !resp.Recognizer {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write health", "error", err)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.State() != Running {
		http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}
	if s.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.config.MaxMessageBytes)
	}
	conn := hub.NewWSConn(ws, s.config.SendTimeout)

	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients.Add(1)
	s.mu.Unlock()
	defer s.clients.Done()

	if !s.hub.Join(conn) {
		conn.Close()
		return
	}
	defer s.hub.Leave(conn)

	s.read(conn)
}

// read consumes one client's messages until the socket fails or closes.
func (s *Server) read(conn *hub.WSConn) {
	for {
		kind, data, err := conn.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) {
				s.logger.Warn("client read", "client", conn.ID(), "error", err)
			}
			return
		}

		if kind != websocket.BinaryMessage {
			s.metrics.RecordDrop(metrics.DropText)
			s.logger.Warn("drop non-binary message", "client", conn.ID())
			continue
		}
		s.handleFrame(conn.ID(), data)
	}
}

func (s *Server) handleFrame(client string, data []byte) {
	s.metrics.FramesReceived.Inc()

	f, err := frame.Decode(data)
	if err != nil {
		s.metrics.RecordDrop(dropReason(err))
		s.logger.Warn("drop frame", "client", client, "bytes", len(data), "error", err)
		return
	}
	if len(f.Payload) == 0 {
		return
	}

	pcm := s.adapter.Adapt(f.Payload, int(f.SampleRate))
	if err := s.bridge.Feed(pcm); err != nil {
		if errors.Is(err, bridge.ErrNotReady) {
			s.logger.Warn("recognizer not ready, audio ignored", "client", client)
			return
		}
		s.logger.Warn("feed audio", "client", client, "error", err)
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrTooShort):
		return metrics.DropShort
	case errors.Is(err, frame.ErrMetadataLength):
		return metrics.DropLength
	default:
		return metrics.DropMetadata
	}
}
