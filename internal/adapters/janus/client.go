// Package janus is a client for the Janus WebSocket API. It owns one gateway
// session and the plugin handles attached to it.
package janus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/adapters/rtc"
	"github.com/dkeye/videoroom/internal/core"
)

const Subprotocol = "janus-protocol"

var (
	_ core.Gateway = (*Client)(nil)
	_ core.Handle  = (*Handle)(nil)
)

// PeerFactory creates the peer connection for a handle on first use.
type PeerFactory func(label string) (*rtc.Connection, error)

type Options struct {
	URL        string
	Keepalive  time.Duration
	SendBuffer int
	NewPeer    PeerFactory
}

// Client implements core.Gateway over a single Janus session.
type Client struct {
	opts Options
	conn *wsConn

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	session uint64
	pending map[string]chan message
	handles map[uint64]*Handle
	closed  bool
}

// Dial connects to the gateway and creates a session.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.Keepalive <= 0 {
		opts.Keepalive = 25 * time.Second
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", opts.URL, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:    opts,
		conn:    newWSConn(ws, opts.SendBuffer),
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]chan message),
		handles: make(map[uint64]*Handle),
	}
	go c.conn.writePump(cctx)
	go c.readLoop()

	m, err := c.call(ctx, request{Janus: "create"})
	if err != nil {
		c.shutdown()
		return nil, fmt.Errorf("create session: %w", err)
	}
	if m.Data == nil {
		c.shutdown()
		return nil, fmt.Errorf("create session: reply without id")
	}
	c.mu.Lock()
	c.session = m.Data.ID
	c.mu.Unlock()

	log.Info().Str("module", "janus").Uint64("session", m.Data.ID).Str("url", opts.URL).Msg("session created")
	go c.keepalive()
	return c, nil
}

// Attach opens a plugin handle on the session.
func (c *Client) Attach(ctx context.Context, plugin core.PluginKind) (core.Handle, error) {
	m, err := c.call(ctx, request{Janus: "attach", SessionID: c.sessionID(), Plugin: string(plugin)})
	if err != nil {
		return nil, err
	}
	if m.Data == nil {
		return nil, fmt.Errorf("attach %s: reply without id", plugin)
	}

	h := newHandle(c, core.HandleID(m.Data.ID))
	c.mu.Lock()
	c.handles[m.Data.ID] = h
	c.mu.Unlock()
	log.Info().Str("module", "janus").Uint64("handle", m.Data.ID).Str("plugin", string(plugin)).Msg("plugin attached")
	return h, nil
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close destroys the session and closes the socket.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	_, err := c.call(ctx, request{Janus: "destroy", SessionID: c.sessionID()})
	c.shutdown()
	return err
}

func (c *Client) sessionID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// call sends req and waits for the ack, success or error that carries its
// transaction.
func (c *Client) call(ctx context.Context, req request) (message, error) {
	req.Transaction = uuid.NewString()
	frame, err := encode(req)
	if err != nil {
		return message{}, err
	}

	reply := make(chan message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return message{}, core.ErrNotConnected
	}
	c.pending[req.Transaction] = reply
	c.mu.Unlock()

	if err := c.conn.TrySend(frame); err != nil {
		c.forget(req.Transaction)
		return message{}, fmt.Errorf("send %s: %w", req.Janus, err)
	}

	select {
	case m := <-reply:
		if err := replyError(m); err != nil {
			return m, err
		}
		return m, nil
	case <-ctx.Done():
		c.forget(req.Transaction)
		return message{}, ctx.Err()
	case <-c.done:
		return message{}, core.ErrNotConnected
	}
}

func (c *Client) forget(tx string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, tx)
}

func (c *Client) readLoop() {
	err := c.conn.readPump(c.dispatch)
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		log.Error().Err(err).Str("module", "janus").Msg("gateway connection lost")
	}
	c.shutdown()
}

func (c *Client) dispatch(data []byte) {
	m, err := decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "janus").Msg("bad gateway frame")
		return
	}

	switch m.Janus {
	case "ack", "success", "error", "event":
		if m.Transaction != "" && c.complete(m) && m.Janus != "event" {
			return
		}
	}

	switch m.Janus {
	case "event":
		if h, ok := c.handle(m.Sender); ok {
			h.deliver(m)
			return
		}
		log.Debug().Str("module", "janus").Uint64("sender", m.Sender).Msg("event for unknown handle")
	case "hangup", "detached":
		if h, ok := c.handle(m.Sender); ok {
			h.hangup(m.Janus, m.Reason)
		}
	case "webrtcup", "media", "slowlink":
		log.Debug().Str("module", "janus").Str("kind", m.Janus).Uint64("sender", m.Sender).Msg("media state")
	case "timeout":
		log.Warn().Str("module", "janus").Uint64("session", m.SessionID).Msg("session timed out")
		go c.shutdown()
	case "ack", "success", "error":
		log.Debug().Str("module", "janus").Str("kind", m.Janus).Str("transaction", m.Transaction).Msg("unmatched reply")
	default:
		log.Debug().Str("module", "janus").Str("kind", m.Janus).Msg("ignored gateway frame")
	}
}

// complete resolves the pending call for m's transaction, if any.
func (c *Client) complete(m message) bool {
	c.mu.Lock()
	reply, ok := c.pending[m.Transaction]
	if ok {
		delete(c.pending, m.Transaction)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if m.Janus == "event" {
		// Asynchronous completion without a prior ack; the payload goes to
		// the handle.
		reply <- message{Janus: "ack", Transaction: m.Transaction}
	} else {
		reply <- m
	}
	return true
}

func (c *Client) handle(id uint64) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

func (c *Client) dropHandle(id core.HandleID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, uint64(id))
}

func (c *Client) keepalive() {
	t := time.NewTicker(c.opts.Keepalive)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.Keepalive)
			_, err := c.call(ctx, request{Janus: "keepalive", SessionID: c.sessionID()})
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("module", "janus").Msg("keepalive failed")
			}
		}
	}
}

// shutdown closes the socket and releases every handle. Safe to call more
// than once.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handles := make([]*Handle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	c.handles = make(map[uint64]*Handle)
	c.pending = make(map[string]chan message)
	session := c.session
	c.mu.Unlock()

	c.cancel()
	c.conn.Close()
	close(c.done)
	for _, h := range handles {
		h.hangup("closed", "client shutdown")
	}
	log.Info().Str("module", "janus").Str("session", strconv.FormatUint(session, 10)).Msg("client closed")
}
