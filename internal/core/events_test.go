package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/domain"
)

func TestDecodeEvents(t *testing.T) {
	cases := []struct {
		name string
		data string
		want []Event
	}{
		{
			name: "joined with publishers",
			data: `{"videoroom":"joined","room":100,"id":1,"private_id":5,"publishers":[{"id":7,"streams":[]}]}`,
			want: []Event{
				Joined{Room: 100, ID: "1", PrivateID: 5},
				PublishersAnnounced{Publishers: []domain.RemotePublisher{{ID: "7", Streams: []domain.Stream{}}}},
			},
		},
		{
			name: "unpublished screen share",
			data: `{"videoroom":"event","room":100,"unpublished":9,"metadata":{"isScreenShare":true}}`,
			want: []Event{Unpublished{ID: "9", Metadata: domain.PublisherMetadata{IsScreenShare: true}}},
		},
		{
			name: "unpublished self",
			data: `{"videoroom":"event","room":100,"unpublished":"ok"}`,
			want: []Event{Other{Kind: "event"}},
		},
		{
			name: "leaving",
			data: `{"videoroom":"event","room":100,"leaving":7,"reason":"kicked"}`,
			want: []Event{Leaving{ID: "7", Reason: "kicked"}},
		},
		{
			name: "talking",
			data: `{"videoroom":"talking","room":100,"id":"alice"}`,
			want: []Event{TalkingChanged{ID: "alice", Speaking: true}},
		},
		{
			name: "stopped talking",
			data: `{"videoroom":"stopped-talking","room":100,"id":7}`,
			want: []Event{TalkingChanged{ID: "7", Speaking: false}},
		},
		{
			name: "started",
			data: `{"videoroom":"event","room":100,"started":"ok"}`,
			want: []Event{Started{}},
		},
		{
			name: "attached",
			data: `{"videoroom":"attached","room":100,"streams":[]}`,
			want: []Event{Attached{Room: 100}},
		},
		{
			name: "destroyed",
			data: `{"videoroom":"destroyed","room":100}`,
			want: []Event{Destroyed{Room: 100}},
		},
		{
			name: "plugin error",
			data: `{"videoroom":"event","error_code":426,"error":"No such room"}`,
			want: []Event{PluginError{Code: 426, Reason: "No such room"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeEvents([]byte(tc.data))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeEventsMalformed(t *testing.T) {
	_, err := DecodeEvents([]byte(`{"videoroom":`))
	require.Error(t, err)

	_, err = DecodeEvents([]byte(`{"videoroom":"joined","room":100}`))
	require.Error(t, err)
}

func TestDecodeCreated(t *testing.T) {
	id, err := DecodeCreated([]byte(`{"videoroom":"created","room":1234,"permanent":false}`))
	require.NoError(t, err)
	require.Equal(t, domain.RoomID(1234), id)

	_, err = DecodeCreated([]byte(`{"videoroom":"event","error_code":427}`))
	require.Error(t, err)
}

func TestJSEPKinds(t *testing.T) {
	var nilJSEP *JSEP
	require.False(t, nilJSEP.IsOffer())
	require.False(t, nilJSEP.IsAnswer())
	require.True(t, (&JSEP{Type: "offer"}).IsOffer())
	require.True(t, (&JSEP{Type: "answer"}).IsAnswer())
}
