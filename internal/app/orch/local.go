package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/sfu"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

var ErrNotJoined = errors.New("not joined")

// LocalSession is the caller's own publishing handle.
type LocalSession struct {
	gw     core.Gateway
	notify Notifier
	handle core.Handle
	tracks []core.LocalTrack
	namer  domain.DisplayNamer

	mu         sync.Mutex
	room       domain.RoomID
	publishing bool
	screen     *screenShare
}

type screenShare struct {
	handle core.Handle
	id     domain.PublisherID
	stream *sfu.Stream
}

func newLocalSession(gw core.Gateway, notify Notifier, handle core.Handle, tracks []core.LocalTrack, namer domain.DisplayNamer) *LocalSession {
	s := &LocalSession{
		gw:     gw,
		notify: notify,
		handle: handle,
		tracks: tracks,
		namer:  namer,
	}
	handle.OnLocalTrack(s.onLocalTrack)
	return s
}

func (s *LocalSession) Handle() core.Handle { return s.handle }

func (s *LocalSession) setRoom(room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
}

func (s *LocalSession) onLocalTrack(track core.Track, added bool) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		return
	}
	s.notify.PublishLocalVideo(fanout.LocalVideo{Stream: sfu.NewStream(track), Added: added})
}

// Publish offers the local camera and microphone tracks to the room.
func (s *LocalSession) Publish(ctx context.Context) error {
	s.mu.Lock()
	if s.publishing {
		s.mu.Unlock()
		return nil
	}
	s.publishing = true
	s.mu.Unlock()

	audio, video, err := s.publish(ctx)
	if err != nil {
		s.mu.Lock()
		s.publishing = false
		s.mu.Unlock()
		return err
	}
	log.Info().Str("module", "orch.local").Bool("audio", audio).Bool("video", video).Msg("publishing own feed")
	return nil
}

func (s *LocalSession) publish(ctx context.Context) (audio, video bool, err error) {
	for _, t := range s.tracks {
		if err := s.handle.AddLocalTrack(t); err != nil {
			return false, false, fmt.Errorf("add local %s track: %w", t.Kind(), err)
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			audio = true
		case webrtc.RTPCodecTypeVideo:
			video = true
		}
	}
	return audio, video, sendOffer(ctx, s.handle, core.NewPublish(audio, video))
}

// HandleRemoteJSEP applies the gateway's answer to our publish offer.
func (s *LocalSession) HandleRemoteJSEP(ctx context.Context, jsep core.JSEP) error {
	return s.handle.HandleRemoteJSEP(ctx, jsep)
}

// StartScreenShare publishes track as a separate screen-share publisher in
// the same room. An active share is stopped first.
func (s *LocalSession) StartScreenShare(ctx context.Context, track core.LocalTrack) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == 0 {
		return ErrNotJoined
	}
	if err := s.StopScreenShare(ctx); err != nil {
		return err
	}

	handle, err := s.gw.Attach(ctx, core.VideoRoomPlugin)
	if err != nil {
		return &core.PluginAttachError{Plugin: core.VideoRoomPlugin, Err: err}
	}

	joined := make(chan domain.PublisherID, 1)
	handle.OnMessage(func(data []byte, jsep *core.JSEP) {
		events, err := core.DecodeEvents(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch.local").Msg("undecodable screen-share message")
		}
		for _, ev := range events {
			if j, ok := ev.(core.Joined); ok {
				select {
				case joined <- j.ID:
				default:
				}
			}
		}
		if jsep.IsAnswer() {
			if err := handle.HandleRemoteJSEP(context.Background(), *jsep); err != nil {
				log.Error().Err(err).Str("module", "orch.local").Msg("apply screen-share answer")
			}
		}
	})

	name, err := s.namer.DisplayName()
	if err != nil {
		_ = handle.Detach(ctx)
		return err
	}
	meta := &domain.PublisherMetadata{IsScreenShare: true}
	join := core.NewJoinPublisher(room, name, core.AudioActivity{})
	join.Metadata = meta
	if err := sendRequest(ctx, handle, join, nil); err != nil {
		_ = handle.Detach(ctx)
		return fmt.Errorf("join screen share: %w", err)
	}

	var id domain.PublisherID
	select {
	case id = <-joined:
	case <-ctx.Done():
		_ = handle.Detach(ctx)
		return ctx.Err()
	}

	// Registered before publishing so our own announcement is recognized.
	sh := &screenShare{handle: handle, id: id, stream: sfu.NewStream(track)}
	s.mu.Lock()
	s.screen = sh
	s.mu.Unlock()

	publish := core.NewPublish(false, true)
	publish.Metadata = meta
	err = handle.AddLocalTrack(track)
	if err == nil {
		err = sendOffer(ctx, handle, publish)
	}
	if err != nil {
		s.mu.Lock()
		if s.screen == sh {
			s.screen = nil
		}
		s.mu.Unlock()
		sh.stream.Close()
		_ = handle.Detach(ctx)
		return fmt.Errorf("publish screen share: %w", err)
	}
	s.notify.SetScreenShare(id, sh.stream)
	log.Info().Str("module", "orch.local").Str("publisher", string(id)).Msg("screen share started")
	return nil
}

// StopScreenShare unpublishes the active screen share, if any.
func (s *LocalSession) StopScreenShare(ctx context.Context) error {
	s.mu.Lock()
	sh := s.screen
	s.screen = nil
	s.mu.Unlock()
	if sh == nil {
		return nil
	}

	err := sendRequest(ctx, sh.handle, core.UnpublishRequest, nil)
	if derr := sh.handle.Detach(ctx); derr != nil && err == nil {
		err = derr
	}
	sh.stream.Close()
	s.notify.ClearScreenShare(sh.id)
	log.Info().Str("module", "orch.local").Str("publisher", string(sh.id)).Msg("screen share stopped")
	return err
}

// ScreenSharePublisher returns the publisher id of the active local share.
func (s *LocalSession) ScreenSharePublisher() (domain.PublisherID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen == nil {
		return "", false
	}
	return s.screen.id, true
}

func (s *LocalSession) Close(ctx context.Context) error {
	err := s.StopScreenShare(ctx)
	if derr := s.handle.Detach(ctx); derr != nil && err == nil {
		err = derr
	}
	return err
}

func sendOffer(ctx context.Context, h core.Handle, body any) error {
	neg, err := await(ctx, h.CreateOffer(ctx))
	if err == nil {
		err = neg.Err
	}
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return sendRequest(ctx, h, body, &neg.JSEP)
}

func sendRequest(ctx context.Context, h core.Handle, body any, jsep *core.JSEP) error {
	reply, err := await(ctx, h.Send(ctx, body, jsep))
	if err == nil {
		err = reply.Err
	}
	return err
}
