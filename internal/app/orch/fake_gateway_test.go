package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

type sentMessage struct {
	Body any
	JSEP *core.JSEP
}

type fakeHandle struct {
	id core.HandleID

	mu            sync.Mutex
	sent          []sentMessage
	reply         func(body any) core.Reply
	answerErr     error
	offerErr      error
	localTracks   []core.LocalTrack
	remoteJSEP    []core.JSEP
	detached      bool
	onMessage     func([]byte, *core.JSEP)
	onLocalTrack  func(core.Track, bool)
	onRemoteTrack func(core.Track, string, bool, core.TrackMetadata)
}

func (h *fakeHandle) ID() core.HandleID { return h.id }

func (h *fakeHandle) Send(_ context.Context, body any, jsep *core.JSEP) <-chan core.Reply {
	h.mu.Lock()
	h.sent = append(h.sent, sentMessage{Body: body, JSEP: jsep})
	reply := h.reply
	h.mu.Unlock()

	ch := make(chan core.Reply, 1)
	if reply != nil {
		ch <- reply(body)
	} else {
		ch <- core.Reply{}
	}
	return ch
}

func (h *fakeHandle) OnMessage(fn func([]byte, *core.JSEP)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *fakeHandle) OnLocalTrack(fn func(core.Track, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLocalTrack = fn
}

func (h *fakeHandle) OnRemoteTrack(fn func(core.Track, string, bool, core.TrackMetadata)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRemoteTrack = fn
}

func (h *fakeHandle) AddLocalTrack(t core.LocalTrack) error {
	h.mu.Lock()
	h.localTracks = append(h.localTracks, t)
	fn := h.onLocalTrack
	h.mu.Unlock()
	if fn != nil {
		fn(t, true)
	}
	return nil
}

func (h *fakeHandle) CreateOffer(context.Context) <-chan core.Negotiation {
	h.mu.Lock()
	err := h.offerErr
	h.mu.Unlock()
	ch := make(chan core.Negotiation, 1)
	ch <- core.Negotiation{JSEP: core.JSEP{Type: "offer", SDP: "v=0 offer"}, Err: err}
	return ch
}

func (h *fakeHandle) CreateAnswer(_ context.Context, offer core.JSEP, _ core.MediaConstraints) <-chan core.Negotiation {
	h.mu.Lock()
	err := h.answerErr
	h.mu.Unlock()
	ch := make(chan core.Negotiation, 1)
	ch <- core.Negotiation{JSEP: core.JSEP{Type: "answer", SDP: "answer to " + offer.SDP}, Err: err}
	return ch
}

func (h *fakeHandle) HandleRemoteJSEP(_ context.Context, jsep core.JSEP) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remoteJSEP = append(h.remoteJSEP, jsep)
	return nil
}

// Detach marks the handle but keeps the callbacks so tests can deliver
// late events the way a slow gateway would.
func (h *fakeHandle) Detach(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detached = true
	return nil
}

func (h *fakeHandle) emit(data string, jsep *core.JSEP) {
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn([]byte(data), jsep)
	}
}

func (h *fakeHandle) remoteTrack(t core.Track, mid string, added bool) {
	h.mu.Lock()
	fn := h.onRemoteTrack
	h.mu.Unlock()
	if fn != nil {
		fn(t, mid, added, core.TrackMetadata{})
	}
}

func (h *fakeHandle) messages() []sentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentMessage(nil), h.sent...)
}

func (h *fakeHandle) isDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

func (h *fakeHandle) subscriberJoin() (core.JoinSubscriberRequest, bool) {
	for _, m := range h.messages() {
		if j, ok := m.Body.(core.JoinSubscriberRequest); ok {
			return j, true
		}
	}
	return core.JoinSubscriberRequest{}, false
}

func (h *fakeHandle) started() (sentMessage, bool) {
	for _, m := range h.messages() {
		if _, ok := m.Body.(core.StartRequest); ok {
			return m, true
		}
	}
	return sentMessage{}, false
}

type fakeGateway struct {
	mu        sync.Mutex
	handles   []*fakeHandle
	attachErr error
	onAttach  func(*fakeHandle)
}

func (g *fakeGateway) Attach(context.Context, core.PluginKind) (core.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attachErr != nil {
		return nil, g.attachErr
	}
	h := &fakeHandle{id: core.HandleID(len(g.handles) + 1)}
	if g.onAttach != nil {
		g.onAttach(h)
	}
	g.handles = append(g.handles, h)
	return h, nil
}

func (g *fakeGateway) handle(i int) *fakeHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i >= len(g.handles) {
		return nil
	}
	return g.handles[i]
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// subscriberFor finds the handle that sent a subscriber join for pub.
func (g *fakeGateway) subscriberFor(pub domain.PublisherID) *fakeHandle {
	g.mu.Lock()
	handles := append([]*fakeHandle(nil), g.handles...)
	g.mu.Unlock()
	for _, h := range handles {
		j, ok := h.subscriberJoin()
		if !ok {
			continue
		}
		for _, s := range j.Streams {
			if s.Feed == pub {
				return h
			}
		}
	}
	return nil
}

func (g *fakeGateway) subscribers() int {
	g.mu.Lock()
	handles := append([]*fakeHandle(nil), g.handles...)
	g.mu.Unlock()
	n := 0
	for _, h := range handles {
		if _, ok := h.subscriberJoin(); ok {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeTrack) ID() string                { return t.id }
func (t fakeTrack) StreamID() string          { return "stream-" + t.id }
func (t fakeTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakeLocalTrack satisfies webrtc.TrackLocal without a peer connection.
type fakeLocalTrack struct {
	fakeTrack
}

func (fakeLocalTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (fakeLocalTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (fakeLocalTrack) RID() string                           { return "" }

var errFake = errors.New("fake failure")

func newTestHub() (*fanout.Hub, *fanout.Subscription) {
	hub := fanout.NewHub(nil)
	return hub, hub.Subscribe(64)
}
