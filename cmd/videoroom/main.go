package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"

	amqpbridge "github.com/dkeye/videoroom/internal/adapters/amqp"
	router "github.com/dkeye/videoroom/internal/adapters/http"
	"github.com/dkeye/videoroom/internal/adapters/janus"
	"github.com/dkeye/videoroom/internal/adapters/media"
	"github.com/dkeye/videoroom/internal/adapters/rtc"
	"github.com/dkeye/videoroom/internal/app/classify"
	"github.com/dkeye/videoroom/internal/app/fanout"
	"github.com/dkeye/videoroom/internal/app/orch"
	"github.com/dkeye/videoroom/internal/config"
	"github.com/dkeye/videoroom/internal/core"
	"github.com/dkeye/videoroom/internal/domain"
)

const consumerBuffer = 64

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("videoroom stopped")
		os.Exit(1)
	}
	log.Info().Msg("videoroom exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	iceCfg := rtc.ConfigWithICEServers(cfg.Gateway.ICEServers)

	client, err := janus.Dial(ctx, janus.Options{
		URL:       cfg.Gateway.URL,
		Keepalive: cfg.Gateway.Keepalive,
		NewPeer: func(label string) (*rtc.Connection, error) {
			return rtc.NewConnection(api, iceCfg, label)
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = client.Close(closeCtx)
	}()

	var wg conc.WaitGroup
	workCtx, stopWork := context.WithCancel(ctx)
	defer func() {
		stopWork()
		wg.Wait()
	}()

	policy, err := fanout.ParsePolicy(cfg.UI.SlowConsumer)
	if err != nil {
		return err
	}
	hub := fanout.NewHub(policy)

	tracks, err := startSources(workCtx, &wg, cfg.Media)
	if err != nil {
		return err
	}

	var screen *media.VideoSource
	if cfg.Media.ScreenFile != "" {
		screen, err = media.NewVideoSource(cfg.Media.ScreenFile, "screen", "screen")
		if err != nil {
			return fmt.Errorf("screen source: %w", err)
		}
		wg.Go(func() { _ = screen.Run(workCtx) })
	}

	var ctrl *orch.Controller
	onJoined := func() {
		if screen == nil {
			return
		}
		wg.Go(func() {
			local, ok := ctrl.Local()
			if !ok {
				return
			}
			if err := local.StartScreenShare(workCtx, screen.Track()); err != nil {
				log.Error().Err(err).Str("module", "main").Msg("screen share failed")
			}
		})
	}
	ctrl = orch.NewController(client, hub, orch.Options{
		Room:          domain.RoomID(cfg.Room.ID),
		MaxPublishers: cfg.Room.MaxPublishers,
		Activity:      core.AudioActivity{Enabled: cfg.Room.AudioLevelEvent, Packets: cfg.Room.AudioActivePackets},
		Namer:         domain.RandomSuffixNamer{Prefix: cfg.Room.DisplayPrefix},
		Capabilities:  classify.Capabilities{Runtime: cfg.Client.Runtime, SafariVP8: cfg.Client.SafariVP8},
		LocalTracks:   tracks,
	}, onJoined)

	if cfg.Recording.Enabled {
		rec, err := media.NewRecorder(cfg.Recording.Dir)
		if err != nil {
			return err
		}
		sub := hub.Subscribe(consumerBuffer)
		wg.Go(func() { rec.Run(workCtx, sub) })
	}

	if cfg.AMQP.URL != "" {
		ch, closeAMQP, err := amqpbridge.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer closeAMQP()
		bridge := amqpbridge.NewBridge(ch, cfg.AMQP.Exchange, domain.RoomID(cfg.Room.ID))
		sub := hub.Subscribe(consumerBuffer)
		wg.Go(func() { bridge.Run(workCtx, sub) })
	}

	if cfg.Room.Role == string(domain.RoleAdmin) {
		err = ctrl.StartAsAdmin(ctx)
	} else {
		err = ctrl.StartAsParticipant(ctx, domain.RoomID(cfg.Room.ID))
	}
	if err != nil {
		ctrl.Close()
		return err
	}

	r := router.SetupRouter(cfg, router.Deps{Room: ctrl, Hub: hub})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Info().Str("addr", addr).Msg("videoroom UI started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case <-client.Done():
		log.Warn().Msg("gateway session ended")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := ctrl.Leave(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("leave on shutdown")
	}
	ctrl.Close()
	if err := client.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("close gateway session")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	return nil
}

// startSources opens the configured camera and microphone files and plays
// them until ctx is done.
func startSources(ctx context.Context, wg *conc.WaitGroup, cfg config.MediaConfig) ([]core.LocalTrack, error) {
	var tracks []core.LocalTrack
	if cfg.AudioFile != "" {
		src, err := media.NewAudioSource(cfg.AudioFile, "audio", "local")
		if err != nil {
			return nil, fmt.Errorf("audio source: %w", err)
		}
		tracks = append(tracks, src.Track())
		wg.Go(func() { _ = src.Run(ctx) })
	}
	if cfg.VideoFile != "" {
		src, err := media.NewVideoSource(cfg.VideoFile, "video", "local")
		if err != nil {
			return nil, fmt.Errorf("video source: %w", err)
		}
		tracks = append(tracks, src.Track())
		wg.Go(func() { _ = src.Run(ctx) })
	}
	return tracks, nil
}
