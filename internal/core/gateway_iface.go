package core

import (
	"context"
)

type PluginKind string

const VideoRoomPlugin PluginKind = "janus.plugin.videoroom"

type HandleID uint64

// JSEP is a session description travelling with a gateway message.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (j *JSEP) IsOffer() bool  { return j != nil && j.Type == "offer" }
func (j *JSEP) IsAnswer() bool { return j != nil && j.Type == "answer" }

// Reply completes a Send. Data holds the plugin payload for synchronous
// requests and is nil when the gateway only acknowledged the request.
type Reply struct {
	Data []byte
	Err  error
}

// Negotiation completes CreateOffer/CreateAnswer.
type Negotiation struct {
	JSEP JSEP
	Err  error
}

// MediaConstraints restricts what a handle negotiates. The zero value
// receives whatever the offer carries and sends nothing.
type MediaConstraints struct {
	SendAudio bool
	SendVideo bool
	Data      bool
}

// TrackMetadata accompanies remote track events.
type TrackMetadata struct {
	Reason string // created, ended, mute, unmute
}

// Gateway opens plugin handles on a signaling gateway session.
type Gateway interface {
	Attach(ctx context.Context, plugin PluginKind) (Handle, error)
}

// Handle is one plugin handle with its own peer connection.
// Callbacks may run on gateway-owned goroutines and must not block.
type Handle interface {
	ID() HandleID

	// Send delivers a plugin message. The returned channel receives exactly one Reply.
	Send(ctx context.Context, body any, jsep *JSEP) <-chan Reply

	OnMessage(fn func(data []byte, jsep *JSEP))
	OnLocalTrack(fn func(track Track, added bool))
	OnRemoteTrack(fn func(track Track, mid string, added bool, meta TrackMetadata))

	AddLocalTrack(track LocalTrack) error
	CreateOffer(ctx context.Context) <-chan Negotiation
	CreateAnswer(ctx context.Context, offer JSEP, mc MediaConstraints) <-chan Negotiation
	HandleRemoteJSEP(ctx context.Context, jsep JSEP) error

	// Detach unregisters every callback and releases the handle. Events
	// arriving after Detach are dropped.
	Detach(ctx context.Context) error
}
