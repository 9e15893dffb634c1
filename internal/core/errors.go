package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/videoroom/internal/domain"
)

var (
	ErrHandleDetached = errors.New("handle detached")
	ErrNotConnected   = errors.New("gateway not connected")
)

// GatewayError is an error reported by the gateway or the plugin.
type GatewayError struct {
	Code   int
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Reason)
}

// RoomCreationError is fatal for the session.
type RoomCreationError struct {
	Room domain.RoomID
	Err  error
}

func (e *RoomCreationError) Error() string {
	return fmt.Sprintf("create room %s: %v", e.Room, e.Err)
}

func (e *RoomCreationError) Unwrap() error { return e.Err }

// PluginAttachError is fatal for the session it was attaching for only.
// Publisher is empty for the local session.
type PluginAttachError struct {
	Plugin    PluginKind
	Publisher domain.PublisherID
	Err       error
}

func (e *PluginAttachError) Error() string {
	if e.Publisher == "" {
		return fmt.Sprintf("attach %s: %v", e.Plugin, e.Err)
	}
	return fmt.Sprintf("attach %s for publisher %s: %v", e.Plugin, e.Publisher, e.Err)
}

func (e *PluginAttachError) Unwrap() error { return e.Err }

// WebRTCNegotiationError tears down the one feed it happened on.
type WebRTCNegotiationError struct {
	Publisher domain.PublisherID
	Stage     string
	Err       error
}

func (e *WebRTCNegotiationError) Error() string {
	return fmt.Sprintf("negotiation (%s) for publisher %s: %v", e.Stage, e.Publisher, e.Err)
}

func (e *WebRTCNegotiationError) Unwrap() error { return e.Err }

// UnsupportedCodecWarning marks a stream excluded from a subscription.
type UnsupportedCodecWarning struct {
	Publisher domain.PublisherID
	MID       string
	Codec     string
	Runtime   string
}

func (w *UnsupportedCodecWarning) Error() string {
	return fmt.Sprintf("publisher %s uses %s on mid %s, unsupported by %s", w.Publisher, w.Codec, w.MID, w.Runtime)
}
