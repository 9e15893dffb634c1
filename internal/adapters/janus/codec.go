package janus

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dkeye/videoroom/internal/core"
)

// request is one client to gateway frame.
type request struct {
	Janus       string     `json:"janus"`
	Transaction string     `json:"transaction"`
	SessionID   uint64     `json:"session_id,omitempty"`
	HandleID    uint64     `json:"handle_id,omitempty"`
	Plugin      string     `json:"plugin,omitempty"`
	Body        any        `json:"body,omitempty"`
	JSEP        *core.JSEP `json:"jsep,omitempty"`
}

// message is one gateway to client frame.
type message struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction,omitempty"`
	SessionID   uint64      `json:"session_id,omitempty"`
	Sender      uint64      `json:"sender,omitempty"`
	Data        *idData     `json:"data,omitempty"`
	Error       *wireError  `json:"error,omitempty"`
	PluginData  *pluginData `json:"plugindata,omitempty"`
	JSEP        *core.JSEP  `json:"jsep,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

type idData struct {
	ID uint64 `json:"id"`
}

type wireError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type pluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

func encode(r request) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Janus, err)
	}
	return b, nil
}

func decode(b []byte) (message, error) {
	var m message
	if err := json.Unmarshal(b, &m); err != nil {
		return message{}, fmt.Errorf("decode gateway frame: %w", err)
	}
	if m.Janus == "" {
		return message{}, fmt.Errorf("gateway frame without janus field")
	}
	return m, nil
}

// replyError extracts a gateway or plugin level error from a reply.
func replyError(m message) error {
	if m.Error != nil {
		return &core.GatewayError{Code: m.Error.Code, Reason: m.Error.Reason}
	}
	if m.PluginData == nil || len(m.PluginData.Data) == 0 {
		return nil
	}
	var perr struct {
		ErrorCode int    `json:"error_code"`
		Error     string `json:"error"`
	}
	if err := json.Unmarshal(m.PluginData.Data, &perr); err != nil {
		return fmt.Errorf("decode plugin data: %w", err)
	}
	if perr.ErrorCode != 0 {
		return &core.GatewayError{Code: perr.ErrorCode, Reason: perr.Error}
	}
	return nil
}
