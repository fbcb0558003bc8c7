package server

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentviewport/internal/clients"
	"agentviewport/internal/input"
	"agentviewport/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	mu   sync.Mutex
	cmds []types.Command
	err  error
}

func (r *fakeRouter) Route(ctx context.Context, cmd types.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return r.err
}

func (r *fakeRouter) Commands() []types.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Command(nil), r.cmds...)
}

// recordingInjector sits behind a real input.Router.
type recordingInjector struct {
	mu    sync.Mutex
	calls []string
}

func (i *recordingInjector) record(c string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, c)
	return nil
}

func (i *recordingInjector) Calls() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

func (i *recordingInjector) ScreenSize() (types.ScreenMetrics, error) {
	return types.ScreenMetrics{Width: 1280, Height: 1440}, nil
}
func (i *recordingInjector) PointerPosition() (int, int, error) { return 0, 0, nil }
func (i *recordingInjector) MoveTo(x, y int) error {
	return i.record(fmt.Sprintf("move %d,%d", x, y))
}
func (i *recordingInjector) SetButton(b input.Button, pressed bool) error {
	return i.record(fmt.Sprintf("button %s %v", b, pressed))
}
func (i *recordingInjector) Click(b input.Button) error { return i.record("click " + string(b)) }
func (i *recordingInjector) TapKey(key string, modifiers ...string) error {
	return i.record("tap " + key)
}
func (i *recordingInjector) TypeText(text string) error { return i.record("type " + text) }

type harness struct {
	srv          *httptest.Server
	mgr          *clients.Manager
	router       *fakeRouter
	active, idle atomic.Int32
}

func newHarness(t *testing.T, router *fakeRouter) *harness {
	t.Helper()
	return newHarnessWith(t, router)
}

func newHarnessWith(t *testing.T, router Router) *harness {
	t.Helper()
	h := &harness{}
	if fr, ok := router.(*fakeRouter); ok {
		h.router = fr
	}
	h.mgr = clients.NewManager(func() { h.active.Add(1) }, func() { h.idle.Add(1) })
	s := New(router, h.mgr, Config{})
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.mgr.Len() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestWebsocketFrameEnvelope(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	conn := h.dial(t, "")

	data := []byte{0xff, 0xd8, 1, 2, 3}
	h.mgr.Broadcast(types.NewFrame(1, data, 2, 2, time.Now()))

	var env struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, types.EventFrame, env.Event)
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), env.Data)
}

func TestWebsocketBinaryFrames(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	conn := h.dial(t, "?binary=1")

	data := []byte{0xff, 0xd8, 9}
	h.mgr.Broadcast(types.NewFrame(1, data, 2, 2, time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, data, msg)
}

func TestWebsocketStatusEvent(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	conn := h.dial(t, "")

	h.mgr.BroadcastStatus(types.StreamStatus{Degraded: true, ConsecutiveFailures: 3, LastError: "x"})

	var env struct {
		Event string             `json:"event"`
		Data  types.StreamStatus `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, types.EventStatus, env.Event)
	assert.True(t, env.Data.Degraded)
	assert.Equal(t, 3, env.Data.ConsecutiveFailures)
}

func TestCommandsRoutedInOrderWithFractionalDefault(t *testing.T) {
	router := &fakeRouter{}
	h := newHarness(t, router)
	conn := h.dial(t, "")

	msgs := []string{
		`{"type":"click","x":0.5,"y":0.5,"button":"right"}`,
		`not json`,
		`{"type":"mousemove_relative","dx":4,"dy":-2}`,
		`{"type":"move","x":100,"y":200,"normalized":false}`,
		`{"type":"keytap","key":"a"}`,
	}
	for _, m := range msgs {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	require.Eventually(t, func() bool { return len(router.Commands()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cmds := router.Commands()
	assert.Equal(t, "click", cmds[0].Type)
	require.NotNil(t, cmds[0].Normalized)
	assert.True(t, *cmds[0].Normalized)
	assert.Equal(t, types.CmdMoveRelative, cmds[1].Type)
	assert.Nil(t, cmds[1].Normalized)
	require.NotNil(t, cmds[2].Normalized)
	assert.False(t, *cmds[2].Normalized)
	assert.Equal(t, "a", cmds[3].Key)
}

func TestInjectionFaultSentToOriginator(t *testing.T) {
	h := newHarness(t, &fakeRouter{err: errors.New("invalid button \"thumb\"")})
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"click_teleport","x":0.1,"y":0.1,"button":"thumb"}`)))

	var env struct {
		Event string             `json:"event"`
		Data  types.CommandError `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, types.EventError, env.Event)
	assert.Equal(t, "click_teleport", env.Data.Type)
	assert.Contains(t, env.Data.Message, "thumb")
}

func TestIncompleteCommandsDropped(t *testing.T) {
	inj := &recordingInjector{}
	h := newHarnessWith(t, input.NewRouter(inj, input.WithSettleDelay(0)))
	conn := h.dial(t, "")

	for _, m := range []string{
		`{"type":"click"}`,
		`{"type":"move","y":0.5}`,
		`{"type":"mousemove_relative","dx":4}`,
		`{"type":"keytap","key":"a"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	// commands of one session are routed in order, so the key tap comes last
	require.Eventually(t, func() bool { return len(inj.Calls()) > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"tap a"}, inj.Calls())

	// dropped, not reported
	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestLastDisconnectGoesIdle(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	a := h.dial(t, "")
	b := h.dial(t, "")
	require.Eventually(t, func() bool { return h.mgr.Len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), h.active.Load())

	a.Close()
	require.Eventually(t, func() bool { return h.mgr.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), h.idle.Load())

	b.Close()
	require.Eventually(t, func() bool { return h.idle.Load() == 1 }, time.Second, 5*time.Millisecond)

	h.dial(t, "")
	assert.Equal(t, int32(2), h.active.Load())
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	q := newQueue()
	for i := 0; i < 10; i++ {
		q.SendFrame(types.NewFrame(uint64(i), nil, 0, 0, time.Now()))
	}
	assert.Len(t, q.frames, frameQueueDepth)
	assert.Equal(t, uint64(0), (<-q.frames).Seq)
	assert.True(t, q.stop())
	assert.False(t, q.stop())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestOfferRejectsBadBody(t *testing.T) {
	h := newHarness(t, &fakeRouter{})
	for _, body := range []string{`nope`, `{"type":"answer","sdp":""}`} {
		resp, err := http.Post(h.srv.URL+"/rtc/offer", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestChunkFrame(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := chunkFrame(42, data, 1000)
	require.Len(t, chunks, 3)

	var joined []byte
	for i, c := range chunks {
		assert.Equal(t, uint32(42), binary.BigEndian.Uint32(c[0:4]))
		assert.Equal(t, uint16(i), binary.BigEndian.Uint16(c[4:6]))
		assert.Equal(t, uint16(3), binary.BigEndian.Uint16(c[6:8]))
		assert.LessOrEqual(t, len(c), 1000+chunkHeaderSize)
		joined = append(joined, c[chunkHeaderSize:]...)
	}
	assert.Equal(t, data, joined)

	empty := chunkFrame(1, nil, 1000)
	require.Len(t, empty, 1)
	assert.Len(t, empty[0], chunkHeaderSize)

	assert.LessOrEqual(t, maxChunkPayload+chunkHeaderSize, 16*1024)
}

func newTestRTCSession(id string) *rtcSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &rtcSession{queue: newQueue(), id: id, ctx: ctx, cancel: cancel}
}

func TestRTCLeaveBeforeOpenNeverSubscribes(t *testing.T) {
	var active, idle atomic.Int32
	mgr := clients.NewManager(func() { active.Add(1) }, func() { idle.Add(1) })
	s := New(&fakeRouter{}, mgr, Config{})

	sess := newTestRTCSession("late")
	s.leave(sess)
	assert.False(t, s.subscribe(sess))
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, int32(0), active.Load())
	assert.Error(t, sess.ctx.Err())

	sess = newTestRTCSession("normal")
	require.True(t, s.subscribe(sess))
	assert.Equal(t, 1, mgr.Len())
	s.leave(sess)
	s.leave(sess)
	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, int32(1), idle.Load())
}

func TestRTCSubscribeLeaveRaceLeavesNoSubscriber(t *testing.T) {
	var active, idle atomic.Int32
	mgr := clients.NewManager(func() { active.Add(1) }, func() { idle.Add(1) })
	s := New(&fakeRouter{}, mgr, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		sess := newTestRTCSession(fmt.Sprintf("s%d", i))
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.subscribe(sess)
		}()
		go func() {
			defer wg.Done()
			s.leave(sess)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, mgr.Len())
	assert.Equal(t, active.Load(), idle.Load(), "every activation was followed by going idle")
}
