// Package config loads the settings shared by the relay and the call client.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "PEERCALL"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Client ClientConfig `mapstructure:"client"`
	Call   CallConfig   `mapstructure:"call"`
	Media  MediaConfig  `mapstructure:"media"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type UserConfig struct {
	UserID   string `mapstructure:"user_id" validate:"required"`
	Username string `mapstructure:"username"`
	FullName string `mapstructure:"full_name"`
}

type RelayConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required,hostname_port"`
	Path            string        `mapstructure:"path" validate:"required,startswith=/"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" validate:"dive,url"`
	PingInterval    time.Duration `mapstructure:"ping_interval" validate:"gt=0,ltfield=PongWait"`
	PongWait        time.Duration `mapstructure:"pong_wait" validate:"gt=0"`
	WriteWait       time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" validate:"gte=1024"`
	SendBuffer      int           `mapstructure:"send_buffer" validate:"gte=1"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	Users           []UserConfig  `mapstructure:"users" validate:"dive"`
}

type ClientConfig struct {
	RelayURL       string        `mapstructure:"relay_url" validate:"required,url"`
	UserID         string        `mapstructure:"user_id"`
	Username       string        `mapstructure:"username"`
	ReconnectBase  time.Duration `mapstructure:"reconnect_base" validate:"gt=0"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max" validate:"gtefield=ReconnectBase"`
	StableAfter    time.Duration `mapstructure:"stable_after" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
	SendTimeout    time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	PingInterval   time.Duration `mapstructure:"ping_interval" validate:"gt=0,ltfield=PongWait"`
	PongWait       time.Duration `mapstructure:"pong_wait" validate:"gt=0"`
}

type CallConfig struct {
	ErrorRevertDelay time.Duration `mapstructure:"error_revert_delay" validate:"gt=0"`
	// Zero disables the deadline.
	RingTimeout    time.Duration `mapstructure:"ring_timeout" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
}

type MediaConfig struct {
	Audio        bool    `mapstructure:"audio"`
	Video        bool    `mapstructure:"video"`
	Width        int     `mapstructure:"width" validate:"gte=0"`
	Height       int     `mapstructure:"height" validate:"gte=0"`
	FrameRate    float64 `mapstructure:"frame_rate" validate:"gte=0"`
	VideoBitRate int     `mapstructure:"video_bit_rate" validate:"gte=0"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls" validate:"min=1,dive,ice_url"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
	// ICEServersJSON replaces ICEServers when set, in the browser
	// RTCIceServer format.
	ICEServersJSON      string        `mapstructure:"ice_servers_json"`
	PortMin             uint16        `mapstructure:"port_min"`
	PortMax             uint16        `mapstructure:"port_max" validate:"omitempty,gtefield=PortMin"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout" validate:"gte=0"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout" validate:"gte=0"`
	KeepAliveInterval   time.Duration `mapstructure:"keepalive_interval" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("relay.listen", ":8080")
	v.SetDefault("relay.path", "/call-signaling")
	v.SetDefault("relay.allowed_origins", []string{})
	v.SetDefault("relay.ping_interval", 54*time.Second)
	v.SetDefault("relay.pong_wait", 60*time.Second)
	v.SetDefault("relay.write_wait", 10*time.Second)
	v.SetDefault("relay.max_message_bytes", 64<<10)
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.shutdown_timeout", 5*time.Second)
	v.SetDefault("relay.users", []map[string]any{})

	v.SetDefault("client.relay_url", "ws://localhost:8080/call-signaling")
	v.SetDefault("client.user_id", "")
	v.SetDefault("client.username", "")
	v.SetDefault("client.reconnect_base", time.Second)
	v.SetDefault("client.reconnect_max", 30*time.Second)
	v.SetDefault("client.stable_after", 10*time.Second)
	v.SetDefault("client.connect_timeout", 10*time.Second)
	v.SetDefault("client.send_timeout", 5*time.Second)
	v.SetDefault("client.ping_interval", 54*time.Second)
	v.SetDefault("client.pong_wait", 60*time.Second)

	v.SetDefault("call.error_revert_delay", 3*time.Second)
	v.SetDefault("call.ring_timeout", 45*time.Second)
	v.SetDefault("call.connect_timeout", 30*time.Second)

	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("media.width", 640)
	v.SetDefault("media.height", 480)
	v.SetDefault("media.frame_rate", 30)
	v.SetDefault("media.video_bit_rate", 1_500_000)

	v.SetDefault("webrtc.ice_servers", []map[string]any{
		{"urls": DefaultSTUNServers},
	})
	v.SetDefault("webrtc.ice_servers_json", "")
	v.SetDefault("webrtc.port_min", 0)
	v.SetDefault("webrtc.port_max", 0)
	v.SetDefault("webrtc.disconnected_timeout", 0)
	v.SetDefault("webrtc.failed_timeout", 0)
	v.SetDefault("webrtc.keepalive_interval", 0)
}

// Load reads path, or settings.toml from the working directory or its
// parent when path is empty. A missing default file is not an error.
// PEERCALL_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.SetConfigName("settings")
		v.SetConfigType("toml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.WebRTC.Servers(); err != nil {
		return fmt.Errorf("invalid config: webrtc: %w", err)
	}
	return nil
}
