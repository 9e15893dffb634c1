package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

func TestClassify(t *testing.T) {
	safari := Capabilities{Runtime: RuntimeSafari}
	safariVP8 := Capabilities{Runtime: RuntimeSafari, SafariVP8: true}
	chrome := Capabilities{Runtime: RuntimeChrome}

	tests := []struct {
		name     string
		stream   domain.Stream
		caps     Capabilities
		accepted bool
	}{
		{"vp9 on safari", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "vp9"}, safari, false},
		{"vp9 on safari with vp8 support", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "vp9"}, safariVP8, false},
		{"vp8 on safari without fallback", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "vp8"}, safari, false},
		{"vp8 on safari with support", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "vp8"}, safariVP8, true},
		{"uppercase codec", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "VP9"}, safari, false},
		{"h264 on safari", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "h264"}, safari, true},
		{"vp9 on chrome", domain.Stream{MID: "0", Kind: domain.KindVideo, Codec: "vp9"}, chrome, true},
		{"opus audio on safari", domain.Stream{MID: "1", Kind: domain.KindAudio, Codec: "opus"}, safari, true},
		{"data on safari", domain.Stream{MID: "2", Kind: domain.KindData}, safari, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := Classify("7", tc.stream, tc.caps)
			require.Equal(t, tc.accepted, r.Accepted())
			require.Equal(t, tc.stream.MID, r.MID)
			if !tc.accepted {
				require.Equal(t, domain.PublisherID("7"), r.Warning.Publisher)
				require.Equal(t, tc.stream.Codec, r.Warning.Codec)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	streams := []domain.Stream{
		{MID: "0", Kind: domain.KindVideo, Codec: "vp8"},
		{MID: "1", Kind: domain.KindVideo, Codec: "vp9"},
		{MID: "2", Kind: domain.KindAudio, Codec: "opus"},
	}
	caps := []Capabilities{
		{Runtime: RuntimeSafari},
		{Runtime: RuntimeSafari, SafariVP8: true},
		{Runtime: RuntimePion},
	}
	for _, s := range streams {
		for _, c := range caps {
			first := Classify("1", s, c)
			for i := 0; i < 10; i++ {
				require.Equal(t, first, Classify("1", s, c))
			}
		}
	}
}

func TestSubscriptionExcludesRejectedMid(t *testing.T) {
	pub := domain.RemotePublisher{
		ID: "7",
		Streams: []domain.Stream{
			{MID: "0", Kind: domain.KindVideo, Codec: "vp9"},
			{MID: "1", Kind: domain.KindAudio, Codec: "opus"},
		},
	}

	streams, warnings := Subscription(pub, Capabilities{Runtime: RuntimeSafari})
	require.Equal(t, []core.SubscribeStream{{Feed: "7", MID: "1"}}, streams)
	require.Len(t, warnings, 1)
	require.Equal(t, "0", warnings[0].MID)

	streams, warnings = Subscription(pub, Capabilities{Runtime: RuntimeChrome})
	require.Len(t, streams, 2)
	require.Empty(t, warnings)
}

func TestRoute(t *testing.T) {
	screen := domain.PublisherMetadata{IsScreenShare: true}
	require.Equal(t, ChannelScreenShare, Route(domain.KindVideo, screen))
	require.Equal(t, ChannelRemoteVideo, Route(domain.KindVideo, domain.PublisherMetadata{}))
	require.Equal(t, ChannelRemoteAudio, Route(domain.KindAudio, screen))
	require.Equal(t, ChannelRemoteAudio, Route(domain.KindAudio, domain.PublisherMetadata{}))
	require.Equal(t, ChannelNone, Route(domain.KindData, domain.PublisherMetadata{}))
}
