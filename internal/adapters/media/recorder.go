package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/sfu"
	"github.com/dkeye/videoroom/internal/domain"
)

const recorderSink = "recorder"

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// fileSink drops packets once closed so a relay racing the close does not
// write into a finished file.
type fileSink struct {
	mu     sync.Mutex
	w      rtpWriter
	closed bool
}

func (s *fileSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.w.WriteRTP(p)
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

type recording struct {
	path   string
	stream *sfu.Stream
	sink   *fileSink
}

// Recorder writes every remote stream announced on a fan-out subscription
// to <dir>/<publisher>-<track id>.ivf or .ogg.
type Recorder struct {
	dir string

	mu     sync.Mutex
	active map[string]*recording
}

func NewRecorder(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording dir %s: %w", dir, err)
	}
	return &Recorder{dir: dir, active: make(map[string]*recording)}, nil
}

// Run records until ctx is done or the subscription is dropped.
func (r *Recorder) Run(ctx context.Context, sub *fanout.Subscription) {
	defer r.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case v, ok := <-sub.RemoteVideo():
			if ok {
				r.apply(ctx, v.Publisher, domain.KindVideo, v.Stream)
			}
		case v, ok := <-sub.RemoteAudio():
			if ok {
				r.apply(ctx, v.Publisher, domain.KindAudio, v.Stream)
			}
		case v, ok := <-sub.ScreenShare():
			if ok {
				r.apply(ctx, v.Publisher, domain.KindVideo, v.Stream)
			}
		}
	}
}

func (r *Recorder) apply(ctx context.Context, pub domain.PublisherID, kind domain.MediaKind, stream *sfu.Stream) {
	if stream == nil {
		r.Stop(pub, kind)
		return
	}
	if err := r.Record(ctx, pub, stream); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("publisher", string(pub)).Msg("recording not started")
	}
}

// Record starts writing stream to disk, replacing any recording of the same
// publisher and kind.
func (r *Recorder) Record(ctx context.Context, pub domain.PublisherID, stream *sfu.Stream) error {
	r.Stop(pub, stream.Kind)

	path, w, err := r.open(pub, stream)
	if err != nil {
		return err
	}
	sink := &fileSink{w: w}
	if err := stream.AddSink(ctx, recorderSink, sink); err != nil {
		_ = sink.Close()
		_ = os.Remove(path)
		return err
	}

	r.mu.Lock()
	r.active[key(pub, stream.Kind)] = &recording{path: path, stream: stream, sink: sink}
	r.mu.Unlock()
	log.Info().Str("module", "media").Str("publisher", string(pub)).Str("file", path).Msg("recording started")
	return nil
}

func (r *Recorder) open(pub domain.PublisherID, stream *sfu.Stream) (string, rtpWriter, error) {
	mime := codecOf(stream)
	base := filepath.Join(r.dir, sanitize(string(pub))+"-"+sanitize(stream.Track.ID()))
	switch stream.Kind {
	case domain.KindVideo:
		path := base + ".ivf"
		w, err := ivfwriter.New(path, ivfwriter.WithCodec(mime))
		return path, w, err
	case domain.KindAudio:
		if !strings.EqualFold(mime, webrtc.MimeTypeOpus) {
			return "", nil, fmt.Errorf("cannot record %s audio", mime)
		}
		path := base + ".ogg"
		w, err := oggwriter.New(path, 48000, 2)
		return path, w, err
	}
	return "", nil, fmt.Errorf("cannot record %s stream", stream.Kind)
}

// Stop finishes the recording of pub's kind stream, if any.
func (r *Recorder) Stop(pub domain.PublisherID, kind domain.MediaKind) {
	r.mu.Lock()
	rec, ok := r.active[key(pub, kind)]
	delete(r.active, key(pub, kind))
	r.mu.Unlock()
	if ok {
		r.finish(rec)
	}
}

func (r *Recorder) Close() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string]*recording)
	r.mu.Unlock()
	for _, rec := range active {
		r.finish(rec)
	}
}

func (r *Recorder) finish(rec *recording) {
	rec.stream.RemoveSink(recorderSink)
	if err := rec.sink.Close(); err != nil {
		log.Error().Err(err).Str("module", "media").Str("file", rec.path).Msg("close recording")
		return
	}
	log.Info().Str("module", "media").Str("file", rec.path).Msg("recording finished")
}

// Recordings lists the files currently being written.
func (r *Recorder) Recordings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for _, rec := range r.active {
		out = append(out, rec.path)
	}
	return out
}

type codecTrack interface {
	Codec() webrtc.RTPCodecParameters
}

func codecOf(stream *sfu.Stream) string {
	if t, ok := stream.Track.(codecTrack); ok && t.Codec().MimeType != "" {
		return t.Codec().MimeType
	}
	if stream.Kind == domain.KindAudio {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeVP8
}

func key(pub domain.PublisherID, kind domain.MediaKind) string {
	return string(pub) + "/" + string(kind)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
