package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/classify"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

// Options configures a Controller.
type Options struct {
	Room          domain.RoomID
	MaxPublishers int
	Activity      core.AudioActivity
	Namer         domain.DisplayNamer
	Capabilities  classify.Capabilities
	LocalTracks   []core.LocalTrack
}

// Controller is the room session controller. It owns the local publisher
// session and the publisher-id keyed subscriber feeds.
type Controller struct {
	gw     core.Gateway
	notify Notifier
	opts   Options
	reg    *Registry
	feeds  *FeedManager

	onJoined func()

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	room     domain.Room
	self     domain.PublisherID
	joined   bool
	joinOnce *sync.Once
	local    *LocalSession
}

// NewController wires a controller. onJoined is invoked once per
// successful join.
func NewController(gw core.Gateway, notify Notifier, opts Options, onJoined func()) *Controller {
	if opts.Namer == nil {
		opts.Namer = domain.RandomSuffixNamer{Prefix: "GoUser"}
	}
	if onJoined == nil {
		onJoined = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry()
	return &Controller{
		gw:       gw,
		notify:   notify,
		opts:     opts,
		reg:      reg,
		feeds:    NewFeedManager(ctx, gw, notify, reg, opts.Capabilities, opts.Activity),
		onJoined: onJoined,
		ctx:      ctx,
		cancel:   cancel,
		joinOnce: &sync.Once{},
	}
}

// StartAsAdmin creates the room and joins it as publisher. A rejected
// create is returned as *core.RoomCreationError and is not retried.
func (c *Controller) StartAsAdmin(ctx context.Context) error {
	handle, err := c.attachLocal(ctx)
	if err != nil {
		return err
	}

	create := core.NewCreateRoom(c.opts.Room, c.opts.MaxPublishers, c.opts.Activity)
	reply, err := await(ctx, handle.Send(ctx, create, nil))
	if err == nil {
		err = reply.Err
	}
	var id domain.RoomID
	if err == nil {
		id, err = core.DecodeCreated(reply.Data)
	}
	if err != nil {
		rerr := &core.RoomCreationError{Room: c.opts.Room, Err: err}
		log.Error().Err(rerr).Str("module", "orch.controller").Msg("room creation failed")
		return rerr
	}

	log.Info().Str("module", "orch.controller").Str("room", id.String()).Msg("room created")
	c.setRoom(domain.Room{ID: id, Role: domain.RoleAdmin})
	return c.joinAsPublisher(ctx, id)
}

// StartAsParticipant joins an existing room as publisher.
func (c *Controller) StartAsParticipant(ctx context.Context, id domain.RoomID) error {
	if _, err := c.attachLocal(ctx); err != nil {
		return err
	}
	c.setRoom(domain.Room{ID: id, Role: domain.RoleParticipant})
	return c.joinAsPublisher(ctx, id)
}

func (c *Controller) attachLocal(ctx context.Context) (core.Handle, error) {
	handle, err := c.gw.Attach(ctx, core.VideoRoomPlugin)
	if err != nil {
		aerr := &core.PluginAttachError{Plugin: core.VideoRoomPlugin, Err: err}
		log.Error().Err(aerr).Str("module", "orch.controller").Msg("local attach failed")
		return nil, aerr
	}
	local := newLocalSession(c.gw, c.notify, handle, c.opts.LocalTracks, c.opts.Namer)
	handle.OnMessage(c.onLocalMessage)

	c.mu.Lock()
	c.local = local
	c.mu.Unlock()
	log.Info().Str("module", "orch.controller").Uint64("handle", uint64(handle.ID())).Msg("local handle attached")
	return handle, nil
}

// joinAsPublisher sends the join; the result arrives later as Joined.
func (c *Controller) joinAsPublisher(ctx context.Context, id domain.RoomID) error {
	name, err := c.opts.Namer.DisplayName()
	if err != nil {
		return fmt.Errorf("display name: %w", err)
	}

	c.mu.Lock()
	c.joinOnce = &sync.Once{}
	c.joined = false
	local := c.local
	c.mu.Unlock()
	local.setRoom(id)

	log.Info().Str("module", "orch.controller").Str("room", id.String()).Str("display", name).Msg("joining room")
	if err := sendRequest(ctx, local.Handle(), core.NewJoinPublisher(id, name, c.opts.Activity), nil); err != nil {
		log.Error().Err(err).Str("module", "orch.controller").Str("room", id.String()).Msg("join request failed")
		return fmt.Errorf("join room %s: %w", id, err)
	}
	return nil
}

func (c *Controller) setRoom(r domain.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

func (c *Controller) Room() domain.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Local returns the local session once attached.
func (c *Controller) Local() (*LocalSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local, c.local != nil
}

// Leave leaves the room and releases every handle.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	local := c.local
	c.local = nil
	c.joined = false
	c.mu.Unlock()

	c.feeds.TeardownAll()
	if local == nil {
		return nil
	}
	err := sendRequest(ctx, local.Handle(), core.LeaveRequest, nil)
	if cerr := local.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	log.Info().Str("module", "orch.controller").Err(err).Msg("left room")
	return err
}

// Close stops background work. Call Leave first to release gateway state.
func (c *Controller) Close() {
	c.cancel()
	c.feeds.Wait()
}

// Wait blocks until background attach and negotiation work has drained.
func (c *Controller) Wait() { c.feeds.Wait() }

// RoomSnapshot is a read-only view for APIs.
type RoomSnapshot struct {
	Room       domain.RoomID       `json:"room"`
	Role       domain.Role         `json:"role"`
	Joined     bool                `json:"joined"`
	Self       domain.PublisherID  `json:"self,omitempty"`
	Publishers []PublisherSnapshot `json:"publishers"`
}

func (c *Controller) Snapshot() RoomSnapshot {
	c.mu.Lock()
	snap := RoomSnapshot{Room: c.room.ID, Role: c.room.Role, Joined: c.joined, Self: c.self}
	c.mu.Unlock()
	snap.Publishers = c.reg.Snapshot()
	return snap
}
