package sfu

import (
	"sync/atomic"

	"github.com/dkeye/videoroom/internal/core"
)

type OutputState int32

const (
	OutputOk OutputState = iota
	OutputDelete
)

// Output is one destination a relay writes to.
type Output struct {
	Sink  core.RTPSink
	state atomic.Int32 // Zero by default (OutputOk)
}

func NewOutput(sink core.RTPSink) *Output {
	return &Output{Sink: sink}
}

func (o *Output) State() OutputState {
	return OutputState(o.state.Load())
}

func (o *Output) MarkDelete() {
	o.state.Store(int32(OutputDelete))
}
