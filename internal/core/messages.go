package core

import (
	"github.com/dkeye/videoroom/internal/domain"
)

const (
	ptypePublisher  = "publisher"
	ptypeSubscriber = "subscriber"
)

// AudioActivity is the audio-level detection setting sent with joins.
type AudioActivity struct {
	Enabled bool
	Packets int
}

type CreateRoomRequest struct {
	Request            string        `json:"request"`
	Room               domain.RoomID `json:"room,omitempty"`
	Publishers         int           `json:"publishers,omitempty"`
	AudioLevelEvent    bool          `json:"audiolevel_event"`
	AudioActivePackets int           `json:"audio_active_packets,omitempty"`
}

func NewCreateRoom(room domain.RoomID, maxPublishers int, aa AudioActivity) CreateRoomRequest {
	return CreateRoomRequest{
		Request:            "create",
		Room:               room,
		Publishers:         maxPublishers,
		AudioLevelEvent:    aa.Enabled,
		AudioActivePackets: aa.Packets,
	}
}

type JoinPublisherRequest struct {
	Request            string                    `json:"request"`
	PType              string                    `json:"ptype"`
	Room               domain.RoomID             `json:"room"`
	Display            string                    `json:"display,omitempty"`
	Metadata           *domain.PublisherMetadata `json:"metadata,omitempty"`
	AudioLevelEvent    bool                      `json:"audiolevel_event"`
	AudioActivePackets int                       `json:"audio_active_packets,omitempty"`
}

func NewJoinPublisher(room domain.RoomID, display string, aa AudioActivity) JoinPublisherRequest {
	return JoinPublisherRequest{
		Request:            "join",
		PType:              ptypePublisher,
		Room:               room,
		Display:            display,
		AudioLevelEvent:    aa.Enabled,
		AudioActivePackets: aa.Packets,
	}
}

// SubscribeStream addresses one mid of one publisher feed.
type SubscribeStream struct {
	Feed domain.PublisherID `json:"feed"`
	MID  string             `json:"mid,omitempty"`
}

type JoinSubscriberRequest struct {
	Request            string            `json:"request"`
	PType              string            `json:"ptype"`
	Room               domain.RoomID     `json:"room"`
	Streams            []SubscribeStream `json:"streams"`
	AudioLevelEvent    bool              `json:"audiolevel_event"`
	AudioActivePackets int               `json:"audio_active_packets,omitempty"`
}

func NewJoinSubscriber(room domain.RoomID, streams []SubscribeStream, aa AudioActivity) JoinSubscriberRequest {
	return JoinSubscriberRequest{
		Request:            "join",
		PType:              ptypeSubscriber,
		Room:               room,
		Streams:            streams,
		AudioLevelEvent:    aa.Enabled,
		AudioActivePackets: aa.Packets,
	}
}

type StartRequest struct {
	Request string        `json:"request"`
	Room    domain.RoomID `json:"room"`
}

func NewStart(room domain.RoomID) StartRequest {
	return StartRequest{Request: "start", Room: room}
}

type PublishRequest struct {
	Request  string                    `json:"request"`
	Audio    bool                      `json:"audio"`
	Video    bool                      `json:"video"`
	Display  string                    `json:"display,omitempty"`
	Metadata *domain.PublisherMetadata `json:"metadata,omitempty"`
}

func NewPublish(audio, video bool) PublishRequest {
	return PublishRequest{Request: "publish", Audio: audio, Video: video}
}

// SimpleRequest covers requests with no parameters (leave, unpublish).
type SimpleRequest struct {
	Request string `json:"request"`
}

var (
	LeaveRequest     = SimpleRequest{Request: "leave"}
	UnpublishRequest = SimpleRequest{Request: "unpublish"}
)
