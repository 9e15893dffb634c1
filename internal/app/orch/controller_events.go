package orch

import (
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
	"github.com/dkeye/videoroom/internal/telemetry"
)

func (c *Controller) onLocalMessage(data []byte, jsep *core.JSEP) {
	events, err := core.DecodeEvents(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch.controller").Msg("undecodable gateway message")
	}
	for _, ev := range events {
		c.OnGatewayEvent(ev)
	}
	if jsep == nil {
		return
	}

	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local == nil {
		return
	}
	if err := local.HandleRemoteJSEP(c.ctx, *jsep); err != nil {
		log.Error().Err(err).Str("module", "orch.controller").Msg("apply remote jsep")
	}
}

// OnGatewayEvent dispatches one decoded room-level event.
func (c *Controller) OnGatewayEvent(ev core.Event) {
	telemetry.GatewayEvents.WithLabelValues(eventKind(ev)).Inc()

	switch e := ev.(type) {
	case core.Joined:
		c.handleJoined(e)
	case core.PublishersAnnounced:
		room := c.Room().ID
		for _, pub := range e.Publishers {
			if c.isOwn(pub.ID) {
				continue
			}
			c.feeds.AttachSubscriber(room, pub)
		}
	case core.Unpublished:
		c.handleUnpublished(e)
	case core.Leaving:
		pub, _ := c.reg.Publisher(e.ID)
		if c.feeds.TeardownPublisher(e.ID) && !pub.Metadata.IsScreenShare {
			c.notify.PublishRemoteVideo(fanout.RemoteStream{Publisher: e.ID})
			c.notify.PublishRemoteAudio(fanout.RemoteStream{Publisher: e.ID})
		}
		log.Info().Str("module", "orch.controller").Str("publisher", string(e.ID)).Str("reason", e.Reason).Msg("publisher left")
	case core.TalkingChanged:
		c.notify.PublishTalking(domain.TalkingStatus{ID: e.ID, Speaking: e.Speaking})
	case core.PluginError:
		gerr := &core.GatewayError{Code: e.Code, Reason: e.Reason}
		log.Error().Err(gerr).Str("module", "orch.controller").Msg("gateway reported error")
		c.notify.PublishError(fanout.FeedError{Err: gerr})
	case core.Destroyed:
		log.Warn().Str("module", "orch.controller").Str("room", e.Room.String()).Msg("room destroyed")
		c.feeds.TeardownAll()
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
	case core.Other:
		log.Debug().Str("module", "orch.controller").Str("kind", e.Kind).Msg("ignored gateway event")
	}
}

func (c *Controller) handleJoined(e core.Joined) {
	c.mu.Lock()
	c.self = e.ID
	c.joined = true
	once := c.joinOnce
	local := c.local
	c.mu.Unlock()

	log.Info().Str("module", "orch.controller").Str("room", e.Room.String()).Str("self", string(e.ID)).Msg("joined room")
	fired := false
	once.Do(func() {
		fired = true
		c.onJoined()
	})
	if !fired || local == nil {
		return
	}
	c.feeds.wg.Go(func() {
		if err := local.Publish(c.ctx); err != nil {
			log.Error().Err(err).Str("module", "orch.controller").Msg("publish own feed failed")
			c.notify.PublishError(fanout.FeedError{Publisher: e.ID, Err: err})
		}
	})
}

func (c *Controller) handleUnpublished(e core.Unpublished) {
	pub, known := c.reg.Publisher(e.ID)
	screen := e.Metadata.IsScreenShare || (known && pub.Metadata.IsScreenShare)
	if screen {
		// Teardown clears the share of a feed known to be screen share.
		if !c.feeds.TeardownPublisher(e.ID) || !pub.Metadata.IsScreenShare {
			c.notify.ClearScreenShare(e.ID)
		}
		return
	}
	c.reg.MarkUnpublished(e.ID)
	log.Info().Str("module", "orch.controller").Str("publisher", string(e.ID)).Msg("publisher unpublished")
}

func (c *Controller) isOwn(id domain.PublisherID) bool {
	c.mu.Lock()
	self, local := c.self, c.local
	c.mu.Unlock()
	if id == self {
		return true
	}
	if local == nil {
		return false
	}
	screen, ok := local.ScreenSharePublisher()
	return ok && screen == id
}

func eventKind(ev core.Event) string {
	return strings.ToLower(reflect.TypeOf(ev).Name())
}
