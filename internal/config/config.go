package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type HostConfig struct {
	// ID pins the host id; empty means a fresh one per run.
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

type RelayConfig struct {
	// Wait is "gathering" or "fixed".
	Wait  string        `mapstructure:"wait"`
	Grace time.Duration `mapstructure:"grace"`
}

type LanConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Group     string `mapstructure:"group"`
	Interface string `mapstructure:"interface"`
	ProxyBind string `mapstructure:"proxy_bind"`
	DialHost  string `mapstructure:"dial_host"`
}

type WebRTCConfig struct {
	ICEServers      []string `mapstructure:"ice_servers"`
	IncludeLoopback bool     `mapstructure:"include_loopback"`
}

type Config struct {
	Mode              string        `mapstructure:"mode"`
	Port              int           `mapstructure:"port"`
	StaticPath        string        `mapstructure:"static_path"`
	ReadLimit         int64         `mapstructure:"read_limit"`
	PingPeriod        time.Duration `mapstructure:"ping_period"`
	Secret            string        `mapstructure:"secret"`
	LogLevel          string        `mapstructure:"log_level"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	Host   HostConfig   `mapstructure:"host"`
	Relay  RelayConfig  `mapstructure:"relay"`
	Lan    LanConfig    `mapstructure:"lan"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "lanlink-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("heartbeat_interval", "5s")

	v.SetDefault("host.id", "")
	v.SetDefault("host.name", "player")
	v.SetDefault("host.avatar", "")

	v.SetDefault("relay.wait", "gathering")
	v.SetDefault("relay.grace", "5s")

	v.SetDefault("lan.enabled", true)
	v.SetDefault("lan.group", "224.0.2.60:4445")
	v.SetDefault("lan.interface", "")
	v.SetDefault("lan.proxy_bind", "0.0.0.0")
	v.SetDefault("lan.dial_host", "localhost")

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.include_loopback", false)
}

// Flags returns the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("lanlink", pflag.ContinueOnError)
	fs.String("config-env", "", "config file suffix: config/config.<env>.yaml (default $CONFIG_ENV or dev)")
	fs.Int("port", 8080, "controller HTTP port")
	fs.String("name", "player", "name announced to peers")
	fs.String("log-level", "info", "zerolog level")
	fs.Bool("no-lan", false, "disable LAN discovery")
	return fs
}

// Load parses args, reads the config file and applies LANLINK_* env
// overrides. Flags win over env, env over file, file over defaults.
func Load(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("LANLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	env, _ := fs.GetString("config-env")
	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	bindings := map[string]string{
		"port":      "port",
		"host.name": "name",
		"log_level": "log-level",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
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
	if noLan, _ := fs.GetBool("no-lan"); noLan {
		cfg.Lan.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("name", cfg.Host.Name).
		Str("relay_wait", cfg.Relay.Wait).
		Bool("lan", cfg.Lan.Enabled).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Relay.Wait {
	case "gathering", "fixed":
	default:
		errs = append(errs, fmt.Errorf("relay.wait must be gathering or fixed, got %q", c.Relay.Wait))
	}
	if c.Relay.Grace <= 0 {
		errs = append(errs, errors.New("relay.grace must be positive"))
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat_interval must not be negative"))
	}
	return errors.Join(errs...)
}
