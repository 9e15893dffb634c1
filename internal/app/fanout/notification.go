package fanout

import (
	"context"
	"time"

	"github.com/dkeye/videoroom/internal/app/sfu"
	"github.com/dkeye/videoroom/internal/domain"
)

// Notification is the serializable form of any value delivered on a
// subscription channel, for consumers outside the process.
type Notification struct {
	Channel   string             `json:"channel"`
	Publisher domain.PublisherID `json:"publisher,omitempty"`
	Stream    string             `json:"stream,omitempty"`
	Kind      domain.MediaKind   `json:"kind,omitempty"`
	Track     string             `json:"track,omitempty"`
	Active    bool               `json:"active"`
	Speaking  *bool              `json:"speaking,omitempty"`
	Error     string             `json:"error,omitempty"`
	At        time.Time          `json:"at"`
}

func streamNotification(channel string, pub domain.PublisherID, s *sfu.Stream) Notification {
	n := Notification{Channel: channel, Publisher: pub, At: time.Now().UTC()}
	if s != nil {
		n.Active = true
		n.Stream = s.ID
		n.Kind = s.Kind
		n.Track = s.Track.ID()
	}
	return n
}

// Drain converts every value received on sub into a Notification and hands
// it to fn, until ctx is done or the subscription is dropped.
func Drain(ctx context.Context, sub *Subscription, fn func(Notification)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case v, ok := <-sub.LocalVideo():
			if ok {
				n := streamNotification(ChannelLocalVideo, "", v.Stream)
				n.Active = v.Added
				fn(n)
			}
		case v, ok := <-sub.RemoteVideo():
			if ok {
				fn(streamNotification(ChannelRemoteVideo, v.Publisher, v.Stream))
			}
		case v, ok := <-sub.RemoteAudio():
			if ok {
				fn(streamNotification(ChannelRemoteAudio, v.Publisher, v.Stream))
			}
		case v, ok := <-sub.ScreenShare():
			if ok {
				fn(streamNotification(ChannelScreenShare, v.Publisher, v.Stream))
			}
		case v, ok := <-sub.Talking():
			if ok {
				speaking := v.Speaking
				fn(Notification{Channel: ChannelTalking, Publisher: v.ID, Active: true, Speaking: &speaking, At: time.Now().UTC()})
			}
		case v, ok := <-sub.Errors():
			if ok {
				n := Notification{Channel: ChannelErrors, Publisher: v.Publisher, At: time.Now().UTC()}
				if v.Err != nil {
					n.Error = v.Err.Error()
				}
				fn(n)
			}
		}
	}
}
