package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/core"
)

var ErrClosed = errors.New("peer connection closed")

// Connection is the peer connection behind one gateway handle. Offers and
// answers are returned with every ICE candidate gathered; there is no trickle.
type Connection struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	mu            sync.Mutex
	remote        map[string]*webrtc.TrackRemote
	local         []core.LocalTrack
	onLocalTrack  func(core.Track, bool)
	onRemoteTrack func(core.Track, string, bool, core.TrackMetadata)
	onClosed      func()
	closed        bool
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return ConfigWithICEServers([]string{"stun:stun.l.google.com:19302"})
}

func ConfigWithICEServers(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

// NewAPI builds a pion API with the default codecs and the default
// interceptor chain (NACK, RTCP reports, TWCC).
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, label string) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		pc:     pc,
		logger: log.With().Str("module", "rtc").Str("handle", label).Logger(),
		remote: make(map[string]*webrtc.TrackRemote),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed {
			c.Close()
		}
	})
	pc.OnTrack(c.handleTrack)
	return c, nil
}

func (c *Connection) OnLocalTrack(fn func(core.Track, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLocalTrack = fn
}

func (c *Connection) OnRemoteTrack(fn func(core.Track, string, bool, core.TrackMetadata)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemoteTrack = fn
}

// OnClosed sets a callback fired once when the connection goes away.
func (c *Connection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *Connection) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	mid := c.midOf(receiver)
	c.logger.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Str("mid", mid).
		Str("codec", track.Codec().MimeType).
		Msg("OnTrack received")

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		pli := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}
		if err := c.pc.WriteRTCP(pli); err != nil {
			c.logger.Warn().Err(err).Str("mid", mid).Msg("send PLI")
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.remote[mid] = track
	fn := c.onRemoteTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track, mid, true, core.TrackMetadata{Reason: "created"})
	}
}

func (c *Connection) midOf(receiver *webrtc.RTPReceiver) string {
	for _, t := range c.pc.GetTransceivers() {
		if t.Receiver() == receiver {
			return t.Mid()
		}
	}
	return ""
}

// AddLocalTrack adds a track to send and reports it as a local track.
func (c *Connection) AddLocalTrack(track core.LocalTrack) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c.mu.Lock()
	c.local = append(c.local, track)
	fn := c.onLocalTrack
	c.mu.Unlock()
	if fn != nil {
		fn(track, true)
	}
	return nil
}

func (c *Connection) CreateOffer(ctx context.Context) <-chan core.Negotiation {
	ch := make(chan core.Negotiation, 1)
	go func() {
		offer, err := c.pc.CreateOffer(nil)
		if err != nil {
			ch <- core.Negotiation{Err: fmt.Errorf("create offer: %w", err)}
			return
		}
		ch <- c.setLocal(ctx, offer)
	}()
	return ch
}

// CreateAnswer applies the remote offer and answers it. Mids the offer
// marks inactive are reported as removed tracks first. Local tracks of a
// kind mc does not send are withdrawn, leaving their transceivers recvonly,
// and without mc.Data the answer rejects the data channel section.
func (c *Connection) CreateAnswer(ctx context.Context, offer core.JSEP, mc core.MediaConstraints) <-chan core.Negotiation {
	ch := make(chan core.Negotiation, 1)
	go func() {
		c.logger.Debug().
			Bool("send_audio", mc.SendAudio).
			Bool("send_video", mc.SendVideo).
			Bool("data", mc.Data).
			Msg("answering offer")
		if err := c.setRemote(offer); err != nil {
			ch <- core.Negotiation{Err: err}
			return
		}
		if err := c.restrictSending(mc); err != nil {
			ch <- core.Negotiation{Err: err}
			return
		}
		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			ch <- core.Negotiation{Err: fmt.Errorf("create answer: %w", err)}
			return
		}
		neg := c.setLocal(ctx, answer)
		if neg.Err == nil && !mc.Data {
			munged, err := RejectMedia(neg.JSEP.SDP, "application")
			if err != nil {
				neg = core.Negotiation{Err: fmt.Errorf("reject data channel: %w", err)}
			} else {
				neg.JSEP.SDP = munged
			}
		}
		ch <- neg
	}()
	return ch
}

// restrictSending removes the senders whose track kind mc does not send.
func (c *Connection) restrictSending(mc core.MediaConstraints) error {
	allowed := func(kind webrtc.RTPCodecType) bool {
		switch kind {
		case webrtc.RTPCodecTypeAudio:
			return mc.SendAudio
		case webrtc.RTPCodecTypeVideo:
			return mc.SendVideo
		}
		return false
	}
	var removed []core.LocalTrack
	for _, t := range c.pc.GetTransceivers() {
		sender := t.Sender()
		if sender == nil || sender.Track() == nil || allowed(sender.Track().Kind()) {
			continue
		}
		track := sender.Track()
		if err := c.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove %s track: %w", track.Kind(), err)
		}
		removed = append(removed, track)
	}
	if len(removed) == 0 {
		return nil
	}

	c.mu.Lock()
	kept := c.local[:0]
	for _, t := range c.local {
		if !containsTrack(removed, t) {
			kept = append(kept, t)
		}
	}
	c.local = kept
	fn := c.onLocalTrack
	c.mu.Unlock()

	for _, t := range removed {
		c.logger.Info().Str("kind", t.Kind().String()).Str("track_id", t.ID()).Msg("local track withdrawn")
		if fn != nil {
			fn(t, false)
		}
	}
	return nil
}

func containsTrack(tracks []core.LocalTrack, t core.LocalTrack) bool {
	for _, x := range tracks {
		if x == t {
			return true
		}
	}
	return false
}

// HandleRemoteJSEP applies an answer to an offer we made.
func (c *Connection) HandleRemoteJSEP(_ context.Context, jsep core.JSEP) error {
	return c.setRemote(jsep)
}

func (c *Connection) setRemote(jsep core.JSEP) error {
	sd := webrtc.SessionDescription{Type: webrtc.NewSDPType(jsep.Type), SDP: jsep.SDP}
	if sd.Type == webrtc.SDPTypeOffer {
		mids, err := InactiveMIDs(jsep.SDP)
		if err != nil {
			return fmt.Errorf("parse offer: %w", err)
		}
		c.endRemote(mids, "ended")
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote %s: %w", jsep.Type, err)
	}
	return nil
}

func (c *Connection) setLocal(ctx context.Context, sd webrtc.SessionDescription) core.Negotiation {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(sd); err != nil {
		return core.Negotiation{Err: fmt.Errorf("set local %s: %w", sd.Type, err)}
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return core.Negotiation{Err: ctx.Err()}
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return core.Negotiation{Err: ErrClosed}
	}
	return core.Negotiation{JSEP: core.JSEP{Type: local.Type.String(), SDP: local.SDP}}
}

// endRemote reports the remote tracks of mids as removed.
func (c *Connection) endRemote(mids []string, reason string) {
	type ended struct {
		mid   string
		track *webrtc.TrackRemote
	}
	c.mu.Lock()
	var gone []ended
	for _, mid := range mids {
		if t, ok := c.remote[mid]; ok {
			gone = append(gone, ended{mid, t})
			delete(c.remote, mid)
		}
	}
	fn := c.onRemoteTrack
	c.mu.Unlock()

	for _, e := range gone {
		c.logger.Info().Str("mid", e.mid).Str("reason", reason).Msg("remote track ended")
		if fn != nil {
			fn(e.track, e.mid, false, core.TrackMetadata{Reason: reason})
		}
	}
}

// Close closes the peer connection and reports every track as removed.
// Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	mids := make([]string, 0, len(c.remote))
	for mid := range c.remote {
		mids = append(mids, mid)
	}
	c.closed = true
	local := c.local
	c.local = nil
	onLocal := c.onLocalTrack
	onClosed := c.onClosed
	c.mu.Unlock()

	c.endRemote(mids, "ended")
	if onLocal != nil {
		for _, t := range local {
			onLocal(t, false)
		}
	}

	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	if onClosed != nil {
		onClosed()
	}
}
