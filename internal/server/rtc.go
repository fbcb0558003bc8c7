package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	// maxChunkPayload keeps every data channel message within the 16KiB
	// that all browsers accept.
	maxChunkPayload = 16*1024 - chunkHeaderSize
	chunkHeaderSize = 8
	// maxBuffered skips frames while the SCTP send buffer drains.
	maxBuffered = 1 << 20
)

// chunkFrame splits data into binary messages, each prefixed with
// seq (uint32), index (uint16) and count (uint16), big endian.
func chunkFrame(seq uint32, data []byte, payload int) [][]byte {
	count := (len(data) + payload - 1) / payload
	if count == 0 {
		count = 1
	}
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * payload
		end := min(start+payload, len(data))
		msg := make([]byte, chunkHeaderSize+end-start)
		binary.BigEndian.PutUint32(msg[0:4], seq)
		binary.BigEndian.PutUint16(msg[4:6], uint16(i))
		binary.BigEndian.PutUint16(msg[6:8], uint16(count))
		copy(msg[chunkHeaderSize:], data[start:end])
		out = append(out, msg)
	}
	return out
}

type rtcSession struct {
	*queue
	id     string
	pc     *webrtc.PeerConnection
	logger *slog.Logger
	out    *webrtc.DataChannel
	ctx    context.Context
	cancel context.CancelFunc

	// subMu orders subscribing against leaving, so a session closed while
	// its frames channel opens is never left in the manager.
	subMu sync.Mutex
}

func (s *rtcSession) ID() string { return s.id }

// subscribe adds sess to the manager unless it has already left.
func (s *Server) subscribe(sess *rtcSession) bool {
	sess.subMu.Lock()
	defer sess.subMu.Unlock()
	select {
	case <-sess.done:
		return false
	default:
	}
	s.mgr.Add(sess)
	return true
}

// leave removes sess from the manager and closes it. The peer connection is
// closed outside subMu since pion may still be running an OnOpen callback.
func (s *Server) leave(sess *rtcSession) {
	sess.subMu.Lock()
	s.mgr.Remove(sess.id)
	stopped := sess.stop()
	sess.subMu.Unlock()

	if !stopped {
		return
	}
	sess.cancel()
	if sess.pc != nil {
		_ = sess.pc.Close()
	}
}

// writeLoop sends queued frames and events on the frames channel.
func (s *rtcSession) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			if s.out.BufferedAmount() > maxBuffered {
				continue
			}
			for _, chunk := range chunkFrame(uint32(f.Seq), f.Data, maxChunkPayload) {
				if err := s.out.Send(chunk); err != nil {
					s.logger.Debug("frame send failed", "error", err)
					break
				}
			}
		case ev := <-s.events:
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := s.out.SendText(string(b)); err != nil {
				s.logger.Debug("event send failed", "error", err)
			}
		}
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, readLimit)).Decode(&offer); err != nil {
		http.Error(w, "bad offer", http.StatusBadRequest)
		return
	}
	if offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "expected an offer", http.StatusBadRequest)
		return
	}

	var ice []webrtc.ICEServer
	if len(s.cfg.ICEServers) > 0 {
		// host candidates only when empty, which is enough on a LAN
		ice = []webrtc.ICEServer{{URLs: s.cfg.ICEServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: ice})
	if err != nil {
		s.logger.Error("create peer connection", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &rtcSession{queue: newQueue(), id: uuid.NewString(), pc: pc, ctx: ctx, cancel: cancel}
	sess.logger = s.logger.With("session", sess.id)
	s.attach(sess)

	if err := pc.SetRemoteDescription(offer); err != nil {
		s.leave(sess)
		http.Error(w, "bad SDP offer", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		s.leave(sess)
		s.logger.Error("create answer", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		s.leave(sess)
		s.logger.Error("set local description", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	select {
	case <-gatherComplete:
	case <-r.Context().Done():
		s.leave(sess)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(pc.LocalDescription())
	sess.logger.Info("webrtc session negotiated", "remote", r.RemoteAddr)
}

// attach wires the client-created data channels. The session subscribes to
// frames once the frames channel opens and leaves when it or the peer
// connection closes.
func (s *Server) attach(sess *rtcSession) {
	// pion callbacks must not block on closing their own peer connection
	leave := func() { go s.leave(sess) }

	sess.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		sess.logger.Debug("data channel", "label", dc.Label())
		switch dc.Label() {
		case "input":
			// pion delivers messages of one channel sequentially, so commands
			// are routed in arrival order.
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if !msg.IsString {
					return
				}
				s.dispatch(sess.ctx, sess, msg.Data, sess.logger)
			})
		case "frames":
			dc.OnOpen(func() {
				sess.out = dc
				if s.subscribe(sess) {
					go sess.writeLoop()
				}
			})
			dc.OnClose(leave)
		}
	})

	sess.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		sess.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			leave()
		}
	})
}
