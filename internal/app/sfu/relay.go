package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/videoroom/internal/core"
)

// Relay reads a remote track and copies every packet to its outputs.
type Relay struct {
	src core.RTPSource

	mu      sync.RWMutex
	outputs map[string]*Output

	done chan struct{}
}

func NewRelay(src core.RTPSource) *Relay {
	return &Relay{
		src:     src,
		outputs: make(map[string]*Output),
		done:    make(chan struct{}),
	}
}

// loop reads RTP packets from the source track and forwards them to all outputs.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done, marking all outputs for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*Output, len(r.outputs))
	maps.Copy(snapshot, r.outputs)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for name, o := range snapshot {
		switch o.State() {
		case OutputDelete:
			dirty = append(dirty, name)
		case OutputOk:
			if err := o.Sink.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("output", name).
					Msg("relay write RTP error, marking output as delete")
				o.MarkDelete()
				dirty = append(dirty, name)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range dirty {
		delete(r.outputs, name)
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		o.MarkDelete()
	}
}

func (r *Relay) AddOutput(name string, o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[name] = o
}

func (r *Relay) output(name string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[name]
	return o, ok
}

// Outputs reports how many outputs are still attached.
func (r *Relay) Outputs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}
