// Package classify decides which advertised streams a subscriber asks for
// and which consumer channel an inbound track belongs to. Everything here is
// pure: identical inputs give identical outputs.
package classify

import (
	"strings"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

const (
	RuntimeSafari  = "safari"
	RuntimeChrome  = "chrome"
	RuntimeFirefox = "firefox"
	RuntimePion    = "pion"
)

// Capabilities describes the runtime that will render subscribed media.
type Capabilities struct {
	Runtime string
	// SafariVP8 is set when Safari has VP8 decode support.
	SafariVP8 bool
}

// Result is Accept(MID) when Warning is nil, Reject(Warning) otherwise.
type Result struct {
	MID     string
	Warning *core.UnsupportedCodecWarning
}

func (r Result) Accepted() bool { return r.Warning == nil }

// Classify accepts every stream except video in a codec the runtime
// cannot decode.
func Classify(pub domain.PublisherID, s domain.Stream, caps Capabilities) Result {
	if s.Kind == domain.KindVideo && !decodable(strings.ToLower(s.Codec), caps) {
		return Result{
			MID: s.MID,
			Warning: &core.UnsupportedCodecWarning{
				Publisher: pub,
				MID:       s.MID,
				Codec:     s.Codec,
				Runtime:   caps.Runtime,
			},
		}
	}
	return Result{MID: s.MID}
}

func decodable(codec string, caps Capabilities) bool {
	if !strings.EqualFold(caps.Runtime, RuntimeSafari) {
		return true
	}
	switch codec {
	case "vp9":
		return false
	case "vp8":
		return caps.SafariVP8
	}
	return true
}

// Subscription runs every stream of pub through Classify and returns the
// streams to request plus the warnings for the ones left out.
func Subscription(pub domain.RemotePublisher, caps Capabilities) ([]core.SubscribeStream, []*core.UnsupportedCodecWarning) {
	streams := make([]core.SubscribeStream, 0, len(pub.Streams))
	var warnings []*core.UnsupportedCodecWarning
	for _, s := range pub.Streams {
		r := Classify(pub.ID, s, caps)
		if !r.Accepted() {
			warnings = append(warnings, r.Warning)
			continue
		}
		streams = append(streams, core.SubscribeStream{Feed: pub.ID, MID: r.MID})
	}
	return streams, warnings
}

// Channel names a fan-out destination for a remote track.
type Channel int

const (
	ChannelNone Channel = iota
	ChannelRemoteVideo
	ChannelRemoteAudio
	ChannelScreenShare
)

func (c Channel) String() string {
	switch c {
	case ChannelRemoteVideo:
		return "remote_video"
	case ChannelRemoteAudio:
		return "remote_audio"
	case ChannelScreenShare:
		return "screen_share"
	}
	return "none"
}

// Route picks the channel for an inbound track from its kind and the
// metadata of the publisher it came from.
func Route(kind domain.MediaKind, meta domain.PublisherMetadata) Channel {
	switch kind {
	case domain.KindVideo:
		if meta.IsScreenShare {
			return ChannelScreenShare
		}
		return ChannelRemoteVideo
	case domain.KindAudio:
		return ChannelRemoteAudio
	}
	return ChannelNone
}
