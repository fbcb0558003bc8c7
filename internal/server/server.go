package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"agentviewport/internal/clients"
	"agentviewport/internal/input"
	"agentviewport/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readLimit    = 8 << 20 // 8MB
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

// DefaultICEServers is used for WebRTC sessions when none are configured.
var DefaultICEServers = []string{"stun:stun.l.google.com:19302"}

// Router executes one input command.
type Router interface {
	Route(ctx context.Context, cmd types.Command) error
}

type Config struct {
	StaticDir  string
	ICEServers []string
	Logger     *slog.Logger
}

// Server is the realtime control plane: websocket and WebRTC sessions that
// receive frames and send input commands.
type Server struct {
	router   Router
	mgr      *clients.Manager
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(router Router, mgr *clients.Manager, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.ICEServers == nil {
		cfg.ICEServers = DefaultICEServers
	}
	return &Server{
		router:   router,
		mgr:      mgr,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// Handler returns the HTTP routes of the realtime plane.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /rtc/offer", s.handleOffer)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newWSSession(uuid.NewString(), ws, r.URL.Query().Get("binary") == "1", s.logger)
	log := s.logger.With("session", sess.id)
	log.Info("websocket connected", "remote", r.RemoteAddr, "binary", sess.binary)

	s.mgr.Add(sess)
	go sess.writeLoop()
	defer func() {
		s.mgr.Remove(sess.id)
		sess.close()
		log.Info("websocket disconnected")
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.dispatch(r.Context(), sess, msg, log)
	}
}

// dispatch decodes and routes one inbound command, reporting injection
// faults back to the originating session. Commands that do not decode or
// lack a required field are dropped.
func (s *Server) dispatch(ctx context.Context, sess eventSender, msg []byte, log *slog.Logger) {
	var cmd types.Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		log.Debug("dropping malformed command", "error", err)
		return
	}
	err := s.router.Route(ctx, realtimeDefaults(cmd))
	if errors.Is(err, input.ErrMissingField) {
		log.Debug("dropping incomplete command", "type", cmd.Type, "error", err)
		return
	}
	if err != nil {
		log.Warn("input command failed", "type", cmd.Type, "error", err)
		sess.SendEvent(types.Envelope{
			Event: types.EventError,
			Data:  types.CommandError{Type: cmd.Type, Message: err.Error()},
		})
	}
}

// realtimeDefaults marks absolute positions as fractional unless the client
// said otherwise; the viewer always sends coordinates in [0,1].
func realtimeDefaults(cmd types.Command) types.Command {
	switch cmd.Kind() {
	case types.CmdMove, types.CmdClickTeleport:
		if cmd.Normalized == nil {
			cmd.Normalized = types.Bool(true)
		}
	}
	return cmd
}
