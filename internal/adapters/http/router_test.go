package http

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/orch"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/domain"
)

type fakeRoom struct {
	leaves  atomic.Int32
	leaveFn func() error
}

func (f *fakeRoom) Snapshot() orch.RoomSnapshot {
	return orch.RoomSnapshot{
		Room:   100,
		Role:   domain.RoleParticipant,
		Joined: true,
		Self:   "7",
		Publishers: []orch.PublisherSnapshot{
			{ID: "9", Display: "alice", Subscribed: []string{"0", "1"}},
		},
	}
}

func (f *fakeRoom) Leave(context.Context) error {
	f.leaves.Add(1)
	if f.leaveFn != nil {
		return f.leaveFn()
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{Mode: "test", Port: 8080, Secret: "test-secret"}
}

func setup(t *testing.T, room *fakeRoom, limiter *RateLimiter) (*gin.Engine, *fanout.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := fanout.NewHub(nil)
	r := SetupRouter(testConfig(), Deps{Room: room, Hub: hub, Limiter: limiter})
	return r, hub
}

func TestRoomSnapshot(t *testing.T) {
	r, _ := setup(t, &fakeRoom{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/room", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var snap orch.RoomSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, domain.RoomID(100), snap.Room)
	require.Equal(t, domain.PublisherID("7"), snap.Self)
	require.Len(t, snap.Publishers, 1)
	require.Equal(t, "alice", snap.Publishers[0].Display)
}

func TestSessionCookieIssued(t *testing.T) {
	r, _ := setup(t, &fakeRoom{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/room", nil))

	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	require.Equal(t, "VideoRoomSessions", cookies[0].Name)
}

func TestLeaveRateLimitedPerClient(t *testing.T) {
	room := &fakeRoom{}
	r, _ := setup(t, room, NewRateLimiter(1, time.Minute))

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/leave", nil))
	require.Equal(t, http.StatusOK, first.Code)
	cookie := first.Result().Cookies()[0]

	again := httptest.NewRequest(http.MethodPost, "/api/leave", nil)
	again.AddCookie(cookie)
	second := httptest.NewRecorder()
	r.ServeHTTP(second, again)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	other := httptest.NewRecorder()
	r.ServeHTTP(other, httptest.NewRequest(http.MethodPost, "/api/leave", nil))
	require.Equal(t, http.StatusOK, other.Code)

	require.EqualValues(t, 2, room.leaves.Load())
}

func TestLeaveFailure(t *testing.T) {
	room := &fakeRoom{leaveFn: func() error { return errors.New("gateway gone") }}
	r, _ := setup(t, room, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/leave", nil))
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "gateway gone")
}

func TestMetricsExposed(t *testing.T) {
	r, _ := setup(t, &fakeRoom{}, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestEventsStream(t *testing.T) {
	r, hub := setup(t, &fakeRoom{}, nil)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return hub.Consumers() == 1 }, time.Second, 5*time.Millisecond)
	hub.PublishTalking(domain.TalkingStatus{ID: "9", Speaking: true})

	lines := make(chan string, 8)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var event, data string
	deadline := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		case <-deadline:
			t.Fatal("no event received")
		}
	}
	require.Equal(t, fanout.ChannelTalking, event)

	var n fanout.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &n))
	require.Equal(t, domain.PublisherID("9"), n.Publisher)
	require.NotNil(t, n.Speaking)
	require.True(t, *n.Speaking)

	cancel()
	require.Eventually(t, func() bool { return hub.Consumers() == 0 }, time.Second, 5*time.Millisecond)
}
