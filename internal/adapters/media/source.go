// Package media feeds local tracks from IVF/Ogg files and records remote
// tracks back to disk.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const oggPageDuration = 20 * time.Millisecond

var ErrUnknownFourCC = errors.New("unsupported ivf fourcc")

// VideoSource loops an IVF file into a local sample track.
type VideoSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
}

// NewVideoSource reads the IVF header of path to pick the track codec.
func NewVideoSource(path, trackID, streamID string) (*VideoSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, fmt.Errorf("read ivf header %s: %w", path, err)
	}
	mime, err := mimeForFourCC(header.FourCC)
	if err != nil {
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, trackID, streamID)
	if err != nil {
		return nil, err
	}
	return &VideoSource{path: path, track: track}, nil
}

func mimeForFourCC(fourCC string) (string, error) {
	switch fourCC {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFourCC, fourCC)
}

func (s *VideoSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

// Run writes frames at the file's frame rate until ctx is done, starting
// over at the end of the file.
func (s *VideoSource) Run(ctx context.Context) error {
	logger := log.With().Str("module", "media").Str("file", s.path).Logger()
	for {
		err := s.playOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error().Err(err).Msg("video source stopped")
			return err
		}
		logger.Debug().Msg("video source looping")
	}
}

func (s *VideoSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return err
	}
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

// AudioSource loops an Ogg/Opus file into a local sample track.
type AudioSource struct {
	path  string
	track *webrtc.TrackLocalStaticSample
}

func NewAudioSource(path, trackID, streamID string) (*AudioSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, _, err := oggreader.NewWith(f); err != nil {
		return nil, fmt.Errorf("read ogg header %s: %w", path, err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, trackID, streamID)
	if err != nil {
		return nil, err
	}
	return &AudioSource{path: path, track: track}, nil
}

func (s *AudioSource) Track() *webrtc.TrackLocalStaticSample { return s.track }

func (s *AudioSource) Run(ctx context.Context) error {
	logger := log.With().Str("module", "media").Str("file", s.path).Logger()
	for {
		err := s.playOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logger.Error().Err(err).Msg("audio source stopped")
			return err
		}
		logger.Debug().Msg("audio source looping")
	}
}

func (s *AudioSource) playOnce(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(float64(samples) / 48000 * float64(time.Second))
		if err := s.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
