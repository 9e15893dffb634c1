package domain

import (
	"bytes"
	"errors"
	"strconv"
)

// PublisherID is an opaque gateway-assigned id. Janus emits numbers by
// default and strings when string_ids is enabled; both decode here.
type PublisherID string

func (id *PublisherID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("empty publisher id")
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*id = PublisherID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return err
	}
	*id = PublisherID(b)
	return nil
}

func (id PublisherID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseUint(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return []byte(strconv.Quote(string(id))), nil
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
	KindData  MediaKind = "data"
)

// Stream describes one media section advertised by a publisher.
type Stream struct {
	MID         string    `json:"mid"`
	MIndex      int       `json:"mindex"`
	Kind        MediaKind `json:"type"`
	Codec       string    `json:"codec,omitempty"`
	Description string    `json:"description,omitempty"`
	Disabled    bool      `json:"disabled,omitempty"`
}

// PublisherMetadata is the free-form metadata a publisher attaches on
// publish. Only the fields the orchestration layer routes on are kept.
type PublisherMetadata struct {
	IsScreenShare bool `json:"isScreenShare,omitempty"`
}

// RemotePublisher is another participant's published feed.
type RemotePublisher struct {
	ID       PublisherID       `json:"id"`
	Display  string            `json:"display,omitempty"`
	Metadata PublisherMetadata `json:"metadata"`
	Streams  []Stream          `json:"streams"`
}
