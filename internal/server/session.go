package server

import (
	"log/slog"
	"sync"
	"time"

	"agentviewport/internal/types"

	"github.com/gorilla/websocket"
)

const (
	frameQueueDepth = 2
	eventQueueDepth = 8
)

type eventSender interface {
	SendEvent(ev types.Envelope)
}

// queue is the bounded outbound buffer shared by both session kinds. Frames
// beyond frameQueueDepth are dropped for this session only.
type queue struct {
	frames chan *types.Frame
	events chan types.Envelope
	done   chan struct{}
	once   sync.Once
}

func newQueue() *queue {
	return &queue{
		frames: make(chan *types.Frame, frameQueueDepth),
		events: make(chan types.Envelope, eventQueueDepth),
		done:   make(chan struct{}),
	}
}

func (q *queue) SendFrame(f *types.Frame) {
	select {
	case q.frames <- f:
	default:
	}
}

func (q *queue) SendStatus(st types.StreamStatus) {
	q.SendEvent(types.Envelope{Event: types.EventStatus, Data: st})
}

func (q *queue) SendEvent(ev types.Envelope) {
	select {
	case q.events <- ev:
	default:
	}
}

func (q *queue) stop() bool {
	stopped := false
	q.once.Do(func() {
		close(q.done)
		stopped = true
	})
	return stopped
}

type wsSession struct {
	*queue
	id     string
	conn   *websocket.Conn
	binary bool
	logger *slog.Logger
}

func newWSSession(id string, conn *websocket.Conn, binary bool, logger *slog.Logger) *wsSession {
	return &wsSession{
		queue:  newQueue(),
		id:     id,
		conn:   conn,
		binary: binary,
		logger: logger.With("session", id),
	}
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) close() {
	if s.stop() {
		_ = s.conn.Close()
	}
}

// writeLoop owns every write to the connection.
func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.close()

	for {
		var err error
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if s.binary {
				err = s.conn.WriteMessage(websocket.BinaryMessage, f.Data)
			} else {
				err = s.conn.WriteJSON(types.Envelope{Event: types.EventFrame, Data: f.Base64()})
			}
		case ev := <-s.events:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = s.conn.WriteJSON(ev)
		case <-ticker.C:
			err = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		}
		if err != nil {
			s.logger.Debug("websocket write failed", "error", err)
			return
		}
	}
}
