package janus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/core"
)

const (
	sessionID = 1001
	handleID  = 2002
)

// fakeJanus answers the session lifecycle and lets tests script plugin replies.
type fakeJanus struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	requests []request
	onMsg    func(req request) []map[string]any
}

func newFakeJanus(t *testing.T) *fakeJanus {
	f := &fakeJanus{t: t}
	up := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = ws
		f.mu.Unlock()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var req request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			f.mu.Lock()
			f.requests = append(f.requests, req)
			onMsg := f.onMsg
			f.mu.Unlock()
			for _, frame := range f.reply(req, onMsg) {
				f.push(frame)
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeJanus) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeJanus) reply(req request, onMsg func(request) []map[string]any) []map[string]any {
	base := func(kind string) map[string]any {
		return map[string]any{"janus": kind, "transaction": req.Transaction, "session_id": sessionID}
	}
	switch req.Janus {
	case "create":
		m := base("success")
		m["data"] = map[string]any{"id": sessionID}
		return []map[string]any{m}
	case "attach":
		if req.Plugin != string(core.VideoRoomPlugin) {
			m := base("error")
			m["error"] = map[string]any{"code": 460, "reason": "No such plugin"}
			return []map[string]any{m}
		}
		m := base("success")
		m["data"] = map[string]any{"id": handleID}
		return []map[string]any{m}
	case "message":
		if onMsg != nil {
			return onMsg(req)
		}
		return []map[string]any{base("ack")}
	case "keepalive":
		return []map[string]any{base("ack")}
	default:
		return []map[string]any{base("success")}
	}
}

func (f *fakeJanus) push(frame map[string]any) {
	b, err := json.Marshal(frame)
	require.NoError(f.t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.WriteMessage(websocket.TextMessage, b)
	}
}

func (f *fakeJanus) seen(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Janus == kind {
			n++
		}
	}
	return n
}

func dial(t *testing.T, f *fakeJanus, keepalive time.Duration) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Options{URL: f.url(), Keepalive: keepalive})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestDialCreatesSession(t *testing.T) {
	f := newFakeJanus(t)
	c := dial(t, f, time.Minute)
	require.Equal(t, uint64(sessionID), c.sessionID())
	require.Equal(t, 1, f.seen("create"))
}

func TestAttachAndAsyncEvent(t *testing.T) {
	f := newFakeJanus(t)
	f.onMsg = func(req request) []map[string]any {
		return []map[string]any{
			{"janus": "ack", "transaction": req.Transaction, "session_id": sessionID},
			{
				"janus": "event", "transaction": req.Transaction, "session_id": sessionID, "sender": handleID,
				"plugindata": map[string]any{
					"plugin": "janus.plugin.videoroom",
					"data":   map[string]any{"videoroom": "joined", "room": 100, "id": 5},
				},
				"jsep": map[string]any{"type": "offer", "sdp": "v=0"},
			},
		}
	}
	c := dial(t, f, time.Minute)

	h, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.NoError(t, err)
	require.Equal(t, core.HandleID(handleID), h.ID())

	got := make(chan []byte, 1)
	var jsep *core.JSEP
	h.OnMessage(func(data []byte, j *core.JSEP) {
		jsep = j
		got <- data
	})

	reply := <-h.Send(context.Background(), core.NewJoinPublisher(100, "tester", core.AudioActivity{}), nil)
	require.NoError(t, reply.Err)
	require.Nil(t, reply.Data)

	select {
	case data := <-got:
		require.JSONEq(t, `{"videoroom":"joined","room":100,"id":5}`, string(data))
		require.True(t, jsep.IsOffer())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	f.mu.Lock()
	last := f.requests[len(f.requests)-1]
	f.mu.Unlock()
	require.Equal(t, "message", last.Janus)
	require.Equal(t, uint64(sessionID), last.SessionID)
	require.Equal(t, uint64(handleID), last.HandleID)
}

func TestSyncSuccessCarriesPluginData(t *testing.T) {
	f := newFakeJanus(t)
	f.onMsg = func(req request) []map[string]any {
		return []map[string]any{{
			"janus": "success", "transaction": req.Transaction, "sender": handleID,
			"plugindata": map[string]any{
				"plugin": "janus.plugin.videoroom",
				"data":   map[string]any{"videoroom": "created", "room": 100},
			},
		}}
	}
	c := dial(t, f, time.Minute)
	h, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.NoError(t, err)

	reply := <-h.Send(context.Background(), core.NewCreateRoom(100, 10, core.AudioActivity{}), nil)
	require.NoError(t, reply.Err)
	id, err := core.DecodeCreated(reply.Data)
	require.NoError(t, err)
	require.EqualValues(t, 100, id)
}

func TestPluginErrorInSuccess(t *testing.T) {
	f := newFakeJanus(t)
	f.onMsg = func(req request) []map[string]any {
		return []map[string]any{{
			"janus": "success", "transaction": req.Transaction, "sender": handleID,
			"plugindata": map[string]any{
				"plugin": "janus.plugin.videoroom",
				"data":   map[string]any{"videoroom": "event", "error_code": 427, "error": "Room 100 already exists"},
			},
		}}
	}
	c := dial(t, f, time.Minute)
	h, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.NoError(t, err)

	reply := <-h.Send(context.Background(), core.NewCreateRoom(100, 10, core.AudioActivity{}), nil)
	var gerr *core.GatewayError
	require.ErrorAs(t, reply.Err, &gerr)
	require.Equal(t, 427, gerr.Code)
}

func TestAttachError(t *testing.T) {
	f := newFakeJanus(t)
	c := dial(t, f, time.Minute)

	_, err := c.Attach(context.Background(), core.PluginKind("janus.plugin.nope"))
	var gerr *core.GatewayError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, 460, gerr.Code)
}

func TestKeepalive(t *testing.T) {
	f := newFakeJanus(t)
	dial(t, f, 10*time.Millisecond)
	require.Eventually(t, func() bool { return f.seen("keepalive") >= 2 }, time.Second, 5*time.Millisecond)
}

func TestDetachDropsLateEvents(t *testing.T) {
	f := newFakeJanus(t)
	c := dial(t, f, time.Minute)
	h, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.NoError(t, err)

	calls := make(chan struct{}, 1)
	h.OnMessage(func([]byte, *core.JSEP) { calls <- struct{}{} })
	require.NoError(t, h.Detach(context.Background()))
	require.Equal(t, 1, f.seen("detach"))

	f.push(map[string]any{
		"janus": "event", "session_id": sessionID, "sender": handleID,
		"plugindata": map[string]any{"plugin": "janus.plugin.videoroom", "data": map[string]any{"videoroom": "event"}},
	})
	require.Never(t, func() bool { return len(calls) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	reply := <-h.Send(context.Background(), core.LeaveRequest, nil)
	require.ErrorIs(t, reply.Err, core.ErrHandleDetached)
}

func TestNegotiationWithoutPeerFactory(t *testing.T) {
	f := newFakeJanus(t)
	c := dial(t, f, time.Minute)
	h, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.NoError(t, err)

	neg := <-h.CreateOffer(context.Background())
	require.ErrorIs(t, neg.Err, ErrNoPeerFactory)
}

func TestTimeoutClosesClient(t *testing.T) {
	f := newFakeJanus(t)
	c := dial(t, f, time.Minute)

	f.push(map[string]any{"janus": "timeout", "session_id": sessionID})
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed")
	}
	_, err := c.Attach(context.Background(), core.VideoRoomPlugin)
	require.ErrorIs(t, err, core.ErrNotConnected)
}

func TestDecodeRejectsFramesWithoutKind(t *testing.T) {
	_, err := decode([]byte(`{"transaction":"x"}`))
	require.Error(t, err)
	_, err = decode([]byte(`{`))
	require.Error(t, err)

	m, err := decode([]byte(`{"janus":"hangup","sender":7,"reason":"ICE failed"}`))
	require.NoError(t, err)
	require.Equal(t, uint64(7), m.Sender)
	require.Equal(t, "ICE failed", m.Reason)
}
