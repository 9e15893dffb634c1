package core

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track is the part of a media track the orchestration layer looks at.
// Both *webrtc.TrackRemote and webrtc.TrackLocal satisfy it.
type Track interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// RTPSource is a remote track that can be read packet by packet.
type RTPSource interface {
	Track
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalTrack is a track the local client publishes.
type LocalTrack = webrtc.TrackLocal

// RTPSink accepts forwarded packets (local static tracks, file writers).
type RTPSink interface {
	WriteRTP(*rtp.Packet) error
}
