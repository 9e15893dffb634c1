// Package fanout delivers classified streams and status updates to
// consumers over typed channels. Notifications published from one goroutine
// reach every consumer in publish order; nothing is reordered.
package fanout

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/sfu"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

const (
	ChannelLocalVideo  = "local_video"
	ChannelRemoteVideo = "remote_video"
	ChannelRemoteAudio = "remote_audio"
	ChannelScreenShare = "screen_share"
	ChannelTalking     = "talking"
	ChannelErrors      = "errors"
)

// LocalVideo carries the caller's own camera stream.
type LocalVideo struct {
	Stream *sfu.Stream
	Added  bool
}

// RemoteStream is keyed by publisher. A nil Stream clears it.
type RemoteStream struct {
	Publisher domain.PublisherID
	Stream    *sfu.Stream
}

// ScreenShare is the single active screen share. A nil Stream clears it.
type ScreenShare struct {
	Publisher domain.PublisherID
	Stream    *sfu.Stream
}

// FeedError is a non-fatal per-feed failure surfaced to consumers.
type FeedError struct {
	Publisher domain.PublisherID
	Err       error
}

// Subscription is one consumer's set of channels.
type Subscription struct {
	ID string

	localVideo  chan LocalVideo
	remoteVideo chan RemoteStream
	remoteAudio chan RemoteStream
	screenShare chan ScreenShare
	talking     chan domain.TalkingStatus
	errors      chan FeedError
	done        chan struct{}
}

func (s *Subscription) LocalVideo() <-chan LocalVideo { return s.localVideo }
func (s *Subscription) RemoteVideo() <-chan RemoteStream { return s.remoteVideo }
func (s *Subscription) RemoteAudio() <-chan RemoteStream { return s.remoteAudio }
func (s *Subscription) ScreenShare() <-chan ScreenShare { return s.screenShare }
func (s *Subscription) Talking() <-chan domain.TalkingStatus { return s.talking }
func (s *Subscription) Errors() <-chan FeedError { return s.errors }

// Done is closed when the hub drops this subscription.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Hub owns the consumer set but never touches media resources.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	screen *ScreenShare
	policy Policy
}

func NewHub(policy Policy) *Hub {
	if policy == nil {
		policy = DropPolicy{}
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		policy: policy,
	}
}

// Subscribe registers a consumer whose channels buffer up to size
// notifications. The active screen share, if any, is replayed.
func (h *Hub) Subscribe(size int) *Subscription {
	sub := &Subscription{
		ID:          uuid.NewString(),
		localVideo:  make(chan LocalVideo, size),
		remoteVideo: make(chan RemoteStream, size),
		remoteAudio: make(chan RemoteStream, size),
		screenShare: make(chan ScreenShare, size+1),
		talking:     make(chan domain.TalkingStatus, size),
		errors:      make(chan FeedError, size),
		done:        make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.ID] = sub
	if h.screen != nil {
		sub.screenShare <- *h.screen
	}
	log.Info().Str("module", "fanout").Str("sub", sub.ID).Msg("consumer subscribed")
	return sub
}

// Unsubscribe removes a consumer and closes its channels.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.done)
	close(sub.localVideo)
	close(sub.remoteVideo)
	close(sub.remoteAudio)
	close(sub.screenShare)
	close(sub.talking)
	close(sub.errors)
	log.Info().Str("module", "fanout").Str("sub", sub.ID).Msg("consumer removed")
}

func (h *Hub) Consumers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) PublishLocalVideo(v LocalVideo) {
	h.broadcast(ChannelLocalVideo, func(s *Subscription) bool { return trySend(s.localVideo, v) })
}

func (h *Hub) PublishRemoteVideo(v RemoteStream) {
	h.broadcast(ChannelRemoteVideo, func(s *Subscription) bool { return trySend(s.remoteVideo, v) })
}

func (h *Hub) PublishRemoteAudio(v RemoteStream) {
	h.broadcast(ChannelRemoteAudio, func(s *Subscription) bool { return trySend(s.remoteAudio, v) })
}

func (h *Hub) PublishTalking(v domain.TalkingStatus) {
	h.broadcast(ChannelTalking, func(s *Subscription) bool { return trySend(s.talking, v) })
}

func (h *Hub) PublishError(v FeedError) {
	h.broadcast(ChannelErrors, func(s *Subscription) bool { return trySend(s.errors, v) })
}

// SetScreenShare replaces the active screen share. The swap and the send
// happen under one write lock so consumers see updates in state order.
func (h *Hub) SetScreenShare(pub domain.PublisherID, stream *sfu.Stream) {
	v := ScreenShare{Publisher: pub, Stream: stream}
	h.mu.Lock()
	h.screen = &v
	dropped := h.sendLocked(func(s *Subscription) bool { return trySend(s.screenShare, v) })
	h.mu.Unlock()
	h.handleDropped(ChannelScreenShare, dropped)
}

// ClearScreenShare empties the screen-share channel. A share owned by
// another publisher is left in place.
func (h *Hub) ClearScreenShare(pub domain.PublisherID) {
	h.mu.Lock()
	if h.screen != nil && h.screen.Publisher != pub {
		owner := h.screen.Publisher
		h.mu.Unlock()
		log.Debug().Str("module", "fanout").Str("publisher", string(pub)).Str("owner", string(owner)).Msg("screen-share clear ignored")
		return
	}
	h.screen = nil
	v := ScreenShare{Publisher: pub}
	dropped := h.sendLocked(func(s *Subscription) bool { return trySend(s.screenShare, v) })
	h.mu.Unlock()
	h.handleDropped(ChannelScreenShare, dropped)
}

// ActiveScreenShare returns the current screen share, if any.
func (h *Hub) ActiveScreenShare() (ScreenShare, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.screen == nil {
		return ScreenShare{}, false
	}
	return *h.screen, true
}

func (h *Hub) broadcast(channel string, send func(*Subscription) bool) {
	h.mu.RLock()
	dropped := h.sendLocked(send)
	h.mu.RUnlock()
	h.handleDropped(channel, dropped)
}

func (h *Hub) sendLocked(send func(*Subscription) bool) []*Subscription {
	var dropped []*Subscription
	for _, s := range h.subs {
		if !send(s) {
			dropped = append(dropped, s)
		}
	}
	return dropped
}

func (h *Hub) handleDropped(channel string, dropped []*Subscription) {
	if len(dropped) == 0 {
		return
	}
	telemetry.NotificationsDropped.WithLabelValues(channel).Add(float64(len(dropped)))
	for _, s := range dropped {
		switch h.policy.OnBackPressure(s, channel) {
		case Disconnect:
			log.Warn().Str("module", "fanout").Str("sub", s.ID).Str("channel", channel).Msg("slow consumer disconnected")
			h.Unsubscribe(s)
		case DropNotification:
			log.Debug().Str("module", "fanout").Str("sub", s.ID).Str("channel", channel).Msg("notification dropped")
		}
	}
}

func trySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
