package core

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dkeye/videoroom/internal/domain"
)

// Event is a decoded videoroom plugin message. The set of variants is
// closed; anything not recognized decodes to Other.
type Event interface{ isEvent() }

type Joined struct {
	Room      domain.RoomID
	ID        domain.PublisherID
	PrivateID int64
}

type PublishersAnnounced struct {
	Publishers []domain.RemotePublisher
}

type Unpublished struct {
	ID       domain.PublisherID
	Metadata domain.PublisherMetadata
}

type Leaving struct {
	ID     domain.PublisherID
	Reason string
}

type TalkingChanged struct {
	ID       domain.PublisherID
	Speaking bool
}

// Attached is the subscriber-side join acknowledgement; its offer arrives as jsep.
type Attached struct {
	Room domain.RoomID
}

type Started struct{}

type Destroyed struct {
	Room domain.RoomID
}

type PluginError struct {
	Code   int
	Reason string
}

type Other struct {
	Kind string
}

func (Joined) isEvent()              {}
func (PublishersAnnounced) isEvent() {}
func (Unpublished) isEvent()         {}
func (Leaving) isEvent()             {}
func (TalkingChanged) isEvent()      {}
func (Attached) isEvent()            {}
func (Started) isEvent()             {}
func (Destroyed) isEvent()           {}
func (PluginError) isEvent()         {}
func (Other) isEvent()               {}

type wireEvent struct {
	VideoRoom   string                   `json:"videoroom"`
	Room        domain.RoomID            `json:"room"`
	ID          json.RawMessage          `json:"id"`
	PrivateID   int64                    `json:"private_id"`
	Publishers  []domain.RemotePublisher `json:"publishers"`
	Unpublished json.RawMessage          `json:"unpublished"`
	Leaving     json.RawMessage          `json:"leaving"`
	Reason      string                   `json:"reason"`
	Metadata    domain.PublisherMetadata `json:"metadata"`
	Started     string                   `json:"started"`
	ErrorCode   int                      `json:"error_code"`
	Error       string                   `json:"error"`
}

var okValue = []byte(`"ok"`)

// DecodeEvents turns one plugin payload into events. A single payload can
// carry several, e.g. joined with the current publisher list.
func DecodeEvents(data []byte) ([]Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode videoroom event: %w", err)
	}
	if w.ErrorCode != 0 {
		return []Event{PluginError{Code: w.ErrorCode, Reason: w.Error}}, nil
	}

	var out []Event
	switch w.VideoRoom {
	case "joined":
		var id domain.PublisherID
		if err := decodeID(w.ID, &id); err != nil {
			return nil, fmt.Errorf("decode joined id: %w", err)
		}
		out = append(out, Joined{Room: w.Room, ID: id, PrivateID: w.PrivateID})
	case "talking", "stopped-talking":
		var id domain.PublisherID
		if err := decodeID(w.ID, &id); err != nil {
			return nil, fmt.Errorf("decode talking id: %w", err)
		}
		return []Event{TalkingChanged{ID: id, Speaking: w.VideoRoom == "talking"}}, nil
	case "attached":
		out = append(out, Attached{Room: w.Room})
	case "destroyed":
		return []Event{Destroyed{Room: w.Room}}, nil
	case "event":
		if w.Started == "ok" {
			out = append(out, Started{})
		}
		if isPublisherRef(w.Unpublished) {
			var id domain.PublisherID
			if err := id.UnmarshalJSON(w.Unpublished); err != nil {
				return nil, fmt.Errorf("decode unpublished id: %w", err)
			}
			out = append(out, Unpublished{ID: id, Metadata: w.Metadata})
		}
		if isPublisherRef(w.Leaving) {
			var id domain.PublisherID
			if err := id.UnmarshalJSON(w.Leaving); err != nil {
				return nil, fmt.Errorf("decode leaving id: %w", err)
			}
			out = append(out, Leaving{ID: id, Reason: w.Reason})
		}
	}
	if len(w.Publishers) > 0 {
		out = append(out, PublishersAnnounced{Publishers: w.Publishers})
	}
	if len(out) == 0 {
		out = append(out, Other{Kind: w.VideoRoom})
	}
	return out, nil
}

// DecodeCreated extracts the room id from a create reply.
func DecodeCreated(data []byte) (domain.RoomID, error) {
	var w struct {
		VideoRoom string        `json:"videoroom"`
		Room      domain.RoomID `json:"room"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return 0, fmt.Errorf("decode created: %w", err)
	}
	if w.VideoRoom != "created" {
		return 0, fmt.Errorf("unexpected reply %q to create", w.VideoRoom)
	}
	return w.Room, nil
}

func decodeID(raw json.RawMessage, id *domain.PublisherID) error {
	return id.UnmarshalJSON(raw)
}

// isPublisherRef reports whether an unpublished/leaving field names a
// publisher. The gateway uses "ok" when it refers to ourselves.
func isPublisherRef(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, okValue)
}
