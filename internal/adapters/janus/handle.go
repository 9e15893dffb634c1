package janus

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/rtc"
	"github.com/dkeye/videoroom/internal/core"
)

var ErrNoPeerFactory = errors.New("no peer connection factory configured")

// Handle is one attached plugin handle plus its peer connection.
type Handle struct {
	client *Client
	id     core.HandleID
	logger zerolog.Logger

	mu            sync.Mutex
	peer          *rtc.Connection
	detached      bool
	onMessage     func([]byte, *core.JSEP)
	onLocalTrack  func(core.Track, bool)
	onRemoteTrack func(core.Track, string, bool, core.TrackMetadata)
}

func newHandle(c *Client, id core.HandleID) *Handle {
	return &Handle{
		client: c,
		id:     id,
		logger: log.With().Str("module", "janus").Uint64("handle", uint64(id)).Logger(),
	}
}

func (h *Handle) ID() core.HandleID { return h.id }

// Send posts a plugin message. The reply carries the plugin data for
// synchronous requests and nothing for acknowledged asynchronous ones.
func (h *Handle) Send(ctx context.Context, body any, jsep *core.JSEP) <-chan core.Reply {
	ch := make(chan core.Reply, 1)
	if h.isDetached() {
		ch <- core.Reply{Err: core.ErrHandleDetached}
		return ch
	}
	go func() {
		m, err := h.client.call(ctx, request{
			Janus:     "message",
			SessionID: h.client.sessionID(),
			HandleID:  uint64(h.id),
			Body:      body,
			JSEP:      jsep,
		})
		if err != nil {
			ch <- core.Reply{Err: err}
			return
		}
		var data []byte
		if m.Janus == "success" && m.PluginData != nil {
			data = m.PluginData.Data
		}
		ch <- core.Reply{Data: data}
	}()
	return ch
}

func (h *Handle) OnMessage(fn func([]byte, *core.JSEP)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = fn
}

func (h *Handle) OnLocalTrack(fn func(core.Track, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLocalTrack = fn
}

func (h *Handle) OnRemoteTrack(fn func(core.Track, string, bool, core.TrackMetadata)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRemoteTrack = fn
}

func (h *Handle) AddLocalTrack(track core.LocalTrack) error {
	pc, err := h.peerConnection()
	if err != nil {
		return err
	}
	return pc.AddLocalTrack(track)
}

func (h *Handle) CreateOffer(ctx context.Context) <-chan core.Negotiation {
	pc, err := h.peerConnection()
	if err != nil {
		return failed(err)
	}
	return pc.CreateOffer(ctx)
}

func (h *Handle) CreateAnswer(ctx context.Context, offer core.JSEP, mc core.MediaConstraints) <-chan core.Negotiation {
	pc, err := h.peerConnection()
	if err != nil {
		return failed(err)
	}
	return pc.CreateAnswer(ctx, offer, mc)
}

func (h *Handle) HandleRemoteJSEP(ctx context.Context, jsep core.JSEP) error {
	pc, err := h.peerConnection()
	if err != nil {
		return err
	}
	return pc.HandleRemoteJSEP(ctx, jsep)
}

// Detach releases the handle on the gateway and closes its peer connection.
func (h *Handle) Detach(ctx context.Context) error {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return nil
	}
	h.detached = true
	pc := h.peer
	h.peer = nil
	h.onMessage = nil
	h.onLocalTrack = nil
	h.onRemoteTrack = nil
	h.mu.Unlock()

	h.client.dropHandle(h.id)
	if pc != nil {
		pc.Close()
	}
	_, err := h.client.call(ctx, request{
		Janus:     "detach",
		SessionID: h.client.sessionID(),
		HandleID:  uint64(h.id),
	})
	if errors.Is(err, core.ErrNotConnected) {
		err = nil
	}
	h.logger.Info().Err(err).Msg("handle detached")
	return err
}

func (h *Handle) isDetached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detached
}

func (h *Handle) peerConnection() (*rtc.Connection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detached {
		return nil, core.ErrHandleDetached
	}
	if h.peer != nil {
		return h.peer, nil
	}
	if h.client.opts.NewPeer == nil {
		return nil, ErrNoPeerFactory
	}
	pc, err := h.client.opts.NewPeer(strconv.FormatUint(uint64(h.id), 10))
	if err != nil {
		return nil, err
	}
	pc.OnLocalTrack(h.localTrack)
	pc.OnRemoteTrack(h.remoteTrack)
	h.peer = pc
	return pc, nil
}

func (h *Handle) localTrack(t core.Track, added bool) {
	h.mu.Lock()
	fn := h.onLocalTrack
	h.mu.Unlock()
	if fn != nil {
		fn(t, added)
	}
}

func (h *Handle) remoteTrack(t core.Track, mid string, added bool, meta core.TrackMetadata) {
	h.mu.Lock()
	fn := h.onRemoteTrack
	h.mu.Unlock()
	if fn != nil {
		fn(t, mid, added, meta)
	}
}

func (h *Handle) deliver(m message) {
	if m.PluginData == nil {
		h.logger.Debug().Msg("event without plugin data")
		return
	}
	h.mu.Lock()
	fn := h.onMessage
	h.mu.Unlock()
	if fn != nil {
		fn(m.PluginData.Data, m.JSEP)
	}
}

// hangup closes the peer connection; its tracks are reported as removed.
// A later negotiation starts a fresh one.
func (h *Handle) hangup(kind, reason string) {
	h.mu.Lock()
	pc := h.peer
	h.peer = nil
	if kind == "detached" || kind == "closed" {
		h.detached = true
	}
	h.mu.Unlock()

	h.logger.Info().Str("kind", kind).Str("reason", reason).Msg("peer hangup")
	if pc != nil {
		pc.Close()
	}
	if kind == "detached" {
		h.client.dropHandle(h.id)
	}
}

func failed(err error) <-chan core.Negotiation {
	ch := make(chan core.Negotiation, 1)
	ch <- core.Negotiation{Err: err}
	return ch
}
