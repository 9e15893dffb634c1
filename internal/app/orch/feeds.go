package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/videoroom/internal/app/classify"
	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/sfu"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

// Notifier is the fan-out surface the orchestration layer writes to.
type Notifier interface {
	PublishLocalVideo(fanout.LocalVideo)
	PublishRemoteVideo(fanout.RemoteStream)
	PublishRemoteAudio(fanout.RemoteStream)
	SetScreenShare(domain.PublisherID, *sfu.Stream)
	ClearScreenShare(domain.PublisherID)
	PublishTalking(domain.TalkingStatus)
	PublishError(fanout.FeedError)
}

// SubscriberFeed is one gateway handle subscribed to one remote publisher.
type SubscriberFeed struct {
	publisher domain.RemotePublisher
	room      domain.RoomID
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	handle     core.Handle
	subscribed []core.SubscribeStream
	streams    map[string]*sfu.Stream
	closed     bool
}

func newSubscriberFeed(parent context.Context, room domain.RoomID, pub domain.RemotePublisher) *SubscriberFeed {
	ctx, cancel := context.WithCancel(parent)
	return &SubscriberFeed{
		publisher: pub,
		room:      room,
		logger: log.With().
			Str("module", "orch.feeds").
			Str("room", room.String()).
			Str("publisher", string(pub.ID)).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		streams: make(map[string]*sfu.Stream),
	}
}

func (f *SubscriberFeed) Publisher() domain.RemotePublisher { return f.publisher }

func (f *SubscriberFeed) SubscribedMIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	mids := make([]string, 0, len(f.subscribed))
	for _, s := range f.subscribed {
		mids = append(mids, s.MID)
	}
	return mids
}

func (f *SubscriberFeed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FeedManager owns one SubscriberFeed per remote publisher and drives its
// attach, join, answer, receive lifecycle.
type FeedManager struct {
	gw       core.Gateway
	notify   Notifier
	reg      *Registry
	caps     classify.Capabilities
	activity core.AudioActivity

	ctx context.Context
	wg  conc.WaitGroup
}

func NewFeedManager(
	ctx context.Context,
	gw core.Gateway,
	notify Notifier,
	reg *Registry,
	caps classify.Capabilities,
	activity core.AudioActivity,
) *FeedManager {
	return &FeedManager{
		gw:       gw,
		notify:   notify,
		reg:      reg,
		caps:     caps,
		activity: activity,
		ctx:      ctx,
	}
}

// AttachSubscriber starts a feed for pub unless a live one exists. It
// returns immediately; the gateway work runs in the background.
func (m *FeedManager) AttachSubscriber(room domain.RoomID, pub domain.RemotePublisher) bool {
	feed := newSubscriberFeed(m.ctx, room, pub)
	stale, ok := m.reg.Reserve(pub, feed)
	if !ok {
		feed.cancel()
		log.Debug().Str("module", "orch.feeds").Str("publisher", string(pub.ID)).Msg("publisher already tracked")
		return false
	}
	if stale != nil {
		m.Teardown(stale)
	}
	telemetry.SubscriberFeeds.Inc()
	m.wg.Go(func() { m.run(feed) })
	return true
}

func (m *FeedManager) run(feed *SubscriberFeed) {
	handle, err := m.gw.Attach(feed.ctx, core.VideoRoomPlugin)
	if err != nil {
		telemetry.AttachFailures.Inc()
		m.fail(feed, &core.PluginAttachError{Plugin: core.VideoRoomPlugin, Publisher: feed.publisher.ID, Err: err})
		return
	}

	streams, warnings := classify.Subscription(feed.publisher, m.caps)
	for _, w := range warnings {
		telemetry.StreamsRejected.WithLabelValues(w.Codec).Inc()
		feed.logger.Warn().Str("mid", w.MID).Str("codec", w.Codec).Str("runtime", w.Runtime).Msg("disabling stream with unsupported codec")
	}

	feed.mu.Lock()
	if feed.closed {
		feed.mu.Unlock()
		m.detach(feed, handle)
		return
	}
	feed.handle = handle
	feed.subscribed = streams
	feed.mu.Unlock()

	handle.OnMessage(func(data []byte, jsep *core.JSEP) { m.onMessage(feed, data, jsep) })
	handle.OnRemoteTrack(func(track core.Track, mid string, added bool, meta core.TrackMetadata) {
		m.onRemoteTrack(feed, track, mid, added, meta)
	})

	if len(streams) == 0 {
		feed.logger.Warn().Msg("no stream left to subscribe to")
		return
	}

	feed.logger.Info().Int("streams", len(streams)).Uint64("handle", uint64(handle.ID())).Msg("joining as subscriber")
	reply, err := await(feed.ctx, handle.Send(feed.ctx, core.NewJoinSubscriber(feed.room, streams, m.activity), nil))
	if err == nil {
		err = reply.Err
	}
	if err != nil {
		m.fail(feed, fmt.Errorf("join subscriber for publisher %s: %w", feed.publisher.ID, err))
	}
}

func (m *FeedManager) onMessage(feed *SubscriberFeed, data []byte, jsep *core.JSEP) {
	if feed.Closed() {
		return
	}
	events, err := core.DecodeEvents(data)
	if err != nil {
		feed.logger.Warn().Err(err).Msg("undecodable subscriber message")
	}
	for _, ev := range events {
		switch e := ev.(type) {
		case core.PluginError:
			m.fail(feed, &core.GatewayError{Code: e.Code, Reason: e.Reason})
			return
		case core.Attached:
			feed.logger.Debug().Msg("subscriber attached")
		case core.Started:
			feed.logger.Info().Msg("subscription started")
		}
	}
	if jsep.IsOffer() {
		offer := *jsep
		m.wg.Go(func() { m.answer(feed, offer) })
	}
}

// answer negotiates a receive-only session for the offer and starts the feed.
func (m *FeedManager) answer(feed *SubscriberFeed, offer core.JSEP) {
	feed.mu.Lock()
	handle := feed.handle
	closed := feed.closed
	feed.mu.Unlock()
	if closed || handle == nil {
		return
	}

	neg, err := await(feed.ctx, handle.CreateAnswer(feed.ctx, offer, core.MediaConstraints{Data: true}))
	if err == nil {
		err = neg.Err
	}
	if err != nil {
		telemetry.NegotiationFailures.WithLabelValues("answer").Inc()
		m.fail(feed, &core.WebRTCNegotiationError{Publisher: feed.publisher.ID, Stage: "answer", Err: err})
		return
	}

	reply, err := await(feed.ctx, handle.Send(feed.ctx, core.NewStart(feed.room), &neg.JSEP))
	if err == nil {
		err = reply.Err
	}
	if err != nil {
		telemetry.NegotiationFailures.WithLabelValues("start").Inc()
		m.fail(feed, &core.WebRTCNegotiationError{Publisher: feed.publisher.ID, Stage: "start", Err: err})
	}
}

func (m *FeedManager) onRemoteTrack(feed *SubscriberFeed, track core.Track, mid string, added bool, meta core.TrackMetadata) {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	if feed.closed {
		return
	}

	id := feed.publisher.ID
	kind := sfu.KindOf(track.Kind())
	ch := classify.Route(kind, feed.publisher.Metadata)
	feed.logger.Debug().
		Str("mid", mid).
		Str("kind", string(kind)).
		Bool("added", added).
		Str("reason", meta.Reason).
		Stringer("channel", ch).
		Msg("remote track")

	var stream *sfu.Stream
	if old, ok := feed.streams[mid]; ok {
		old.Close()
		delete(feed.streams, mid)
	}
	if added {
		stream = sfu.NewStream(track)
		feed.streams[mid] = stream
	}

	switch ch {
	case classify.ChannelScreenShare:
		if added {
			m.notify.SetScreenShare(id, stream)
		} else {
			m.notify.ClearScreenShare(id)
		}
	case classify.ChannelRemoteVideo:
		m.notify.PublishRemoteVideo(fanout.RemoteStream{Publisher: id, Stream: stream})
	case classify.ChannelRemoteAudio:
		m.notify.PublishRemoteAudio(fanout.RemoteStream{Publisher: id, Stream: stream})
	}
}

// fail reports a per-feed error and tears the feed down. Other feeds are
// not touched.
func (m *FeedManager) fail(feed *SubscriberFeed, err error) {
	if feed.Closed() {
		return
	}
	feed.logger.Error().Err(err).Msg("subscriber feed failed")
	m.notify.PublishError(fanout.FeedError{Publisher: feed.publisher.ID, Err: err})
	m.Teardown(feed)
}

// Teardown silences the feed, releases its streams, clears its screen share,
// drops it from the registry and detaches its handle. Safe to call more
// than once.
func (m *FeedManager) Teardown(feed *SubscriberFeed) {
	feed.mu.Lock()
	if feed.closed {
		feed.mu.Unlock()
		return
	}
	feed.closed = true
	feed.cancel()
	handle := feed.handle
	for mid, s := range feed.streams {
		s.Close()
		delete(feed.streams, mid)
	}
	feed.mu.Unlock()

	if feed.publisher.Metadata.IsScreenShare {
		m.notify.ClearScreenShare(feed.publisher.ID)
	}
	m.reg.Remove(feed.publisher.ID, feed)
	telemetry.SubscriberFeeds.Dec()
	feed.logger.Info().Msg("feed torn down")
	if handle != nil {
		m.wg.Go(func() { m.detach(feed, handle) })
	}
}

// TeardownPublisher tears down the feed bound to id, if any.
func (m *FeedManager) TeardownPublisher(id domain.PublisherID) bool {
	feed, ok := m.reg.Get(id)
	if !ok {
		return false
	}
	m.Teardown(feed)
	return true
}

func (m *FeedManager) TeardownAll() {
	for _, feed := range m.reg.Feeds() {
		m.Teardown(feed)
	}
}

func (m *FeedManager) detach(feed *SubscriberFeed, handle core.Handle) {
	if err := handle.Detach(context.WithoutCancel(m.ctx)); err != nil {
		feed.logger.Warn().Err(err).Msg("detach subscriber handle")
	}
}

// Wait blocks until every background attach and negotiation has returned.
func (m *FeedManager) Wait() { m.wg.Wait() }

func await[T any](ctx context.Context, ch <-chan T) (T, error) {
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
