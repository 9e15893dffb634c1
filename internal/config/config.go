package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode" validate:"oneof=debug release test"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Secret   string `mapstructure:"secret" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`

	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Room      RoomConfig      `mapstructure:"room"`
	Client    ClientConfig    `mapstructure:"client"`
	Media     MediaConfig     `mapstructure:"media"`
	Recording RecordingConfig `mapstructure:"recording"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	UI        UIConfig        `mapstructure:"ui"`
}

type GatewayConfig struct {
	URL        string        `mapstructure:"url" validate:"required,url"`
	Keepalive  time.Duration `mapstructure:"keepalive" validate:"gt=0"`
	ICEServers []string      `mapstructure:"ice_servers"`
}

type RoomConfig struct {
	Role               string `mapstructure:"role" validate:"oneof=admin participant"`
	ID                 int64  `mapstructure:"id" validate:"required_if=Role participant,gte=0"`
	MaxPublishers      int    `mapstructure:"max_publishers" validate:"min=1"`
	AudioLevelEvent    bool   `mapstructure:"audio_level_event"`
	AudioActivePackets int    `mapstructure:"audio_active_packets" validate:"min=1"`
	DisplayPrefix      string `mapstructure:"display_prefix" validate:"max=32"`
}

type ClientConfig struct {
	Runtime   string `mapstructure:"runtime" validate:"oneof=safari chrome firefox pion"`
	SafariVP8 bool   `mapstructure:"safari_vp8"`
}

type MediaConfig struct {
	VideoFile  string `mapstructure:"video_file"`
	AudioFile  string `mapstructure:"audio_file"`
	ScreenFile string `mapstructure:"screen_file"`
}

type RecordingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir" validate:"required_if=Enabled true"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,url"`
	Exchange string `mapstructure:"exchange" validate:"required_with=URL"`
}

// UIConfig tunes the browser event stream. SlowConsumer picks what happens
// to a stream whose buffer is full: drop the notification or disconnect it.
type UIConfig struct {
	SlowConsumer string `mapstructure:"slow_consumer" validate:"oneof=drop disconnect"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "videoroom-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("gateway.url", "ws://localhost:8188/janus")
	v.SetDefault("gateway.keepalive", "25s")
	v.SetDefault("gateway.ice_servers", []string{"stun:stun.l.google.com:19302"})

	v.SetDefault("room.role", "admin")
	v.SetDefault("room.id", 100)
	v.SetDefault("room.max_publishers", 10)
	v.SetDefault("room.audio_level_event", true)
	v.SetDefault("room.audio_active_packets", 7)
	v.SetDefault("room.display_prefix", "GoUser")

	v.SetDefault("client.runtime", "pion")
	v.SetDefault("client.safari_vp8", false)

	v.SetDefault("media.video_file", "")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("media.screen_file", "")

	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.dir", "./recordings")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "videoroom")

	v.SetDefault("ui.slow_consumer", "drop")
}

// Flags declares the command line overrides. Their names match the config
// keys they override.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("videoroom", pflag.ContinueOnError)
	fs.String("gateway.url", "", "Janus WebSocket URL")
	fs.String("room.role", "", "admin creates the room, participant joins it")
	fs.Int64("room.id", 0, "room id")
	fs.String("client.runtime", "", "runtime rendering subscribed media")
	fs.Int("port", 0, "UI HTTP port")
	fs.String("log_level", "", "log level")
	fs.Bool("recording.enabled", false, "record remote streams")
	return fs
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VIDEOROOM_* env vars,
// then flags set in fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VIDEOROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("gateway", cfg.Gateway.URL).
		Str("role", cfg.Room.Role).
		Int64("room", cfg.Room.ID).
		Msg("config ready")
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
