package sfu

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

var (
	ErrNotReadable  = errors.New("track cannot be read")
	ErrStreamClosed = errors.New("stream closed")
)

// Stream is the local handle a consumer receives for one track. Remote
// tracks can be tapped by any number of sinks through a lazily started relay.
type Stream struct {
	ID    string
	Kind  domain.MediaKind
	Track core.Track

	mu     sync.Mutex
	relay  *Relay
	cancel context.CancelFunc
	closed bool
}

func NewStream(track core.Track) *Stream {
	return &Stream{
		ID:    uuid.NewString(),
		Kind:  KindOf(track.Kind()),
		Track: track,
	}
}

func KindOf(t webrtc.RTPCodecType) domain.MediaKind {
	switch t {
	case webrtc.RTPCodecTypeAudio:
		return domain.KindAudio
	case webrtc.RTPCodecTypeVideo:
		return domain.KindVideo
	}
	return domain.KindData
}

// AddSink starts forwarding packets of a remote track into sink.
func (s *Stream) AddSink(ctx context.Context, name string, sink core.RTPSink) error {
	src, ok := s.Track.(core.RTPSource)
	if !ok {
		return ErrNotReadable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.relay == nil {
		logger := log.With().
			Str("module", "sfu").
			Str("stream", s.ID).
			Str("track", s.Track.ID()).
			Logger()
		relayCtx, cancel := context.WithCancel(ctx)
		s.relay = NewRelay(src)
		s.cancel = cancel
		logger.Info().Msg("starting relay loop")
		go s.relay.loop(relayCtx, &logger)
	}
	s.relay.AddOutput(name, NewOutput(sink))
	return nil
}

// RemoveSink marks a sink for removal; the relay drops it on the next packet.
func (s *Stream) RemoveSink(name string) {
	s.mu.Lock()
	relay := s.relay
	s.mu.Unlock()
	if relay == nil {
		return
	}
	if o, ok := relay.output(name); ok {
		o.MarkDelete()
	}
}

// Close stops the relay. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.relay != nil {
		s.relay.markAllDelete()
		s.cancel()
	}
}
