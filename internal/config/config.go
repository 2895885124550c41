package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultGatewayURL      = "ws://127.0.0.1:8788/ws"
	DefaultPollTimeout     = 30
	DefaultKeepMsgs        = 200
	MinKeepMsgs            = 100
	DefaultLoginTimeout    = 3 * time.Minute
	DefaultRecoveryTimeout = time.Minute
	DefaultRequestTimeout  = 30 * time.Second
	DefaultSendRetries     = 3
	DefaultMaxFileBytes    = 50 << 20
	DefaultFFmpegPath      = "ffmpeg"
	DefaultCleanupSchedule = "@every 30m"
	DefaultCleanupMaxAge   = 24 * time.Hour
	DefaultLang            = "zh_CN"

	FaultPolicyHalt    = "halt"
	FaultPolicyRelogin = "relogin"
)

type Config struct {
	Log      LogConfig      `toml:"log" yaml:"log"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
	Gateway  GatewayConfig  `toml:"gateway" yaml:"gateway"`
	Bridge   BridgeConfig   `toml:"bridge" yaml:"bridge"`
	Media    MediaConfig    `toml:"media" yaml:"media"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr      string `toml:"addr" yaml:"addr"`
	JWTSecret string `toml:"jwt_secret" yaml:"jwt_secret"`
}

type TelegramConfig struct {
	BotToken    string `toml:"bot_token" yaml:"bot_token" validate:"required"`
	APIEndpoint string `toml:"api_endpoint" yaml:"api_endpoint" validate:"omitempty,url"`
	PollTimeout int    `toml:"poll_timeout" yaml:"poll_timeout" validate:"gte=0"`
	Proxy       string `toml:"proxy" yaml:"proxy" validate:"omitempty,url"`
}

type GatewayConfig struct {
	URL            string        `toml:"url" yaml:"url" validate:"required,url"`
	Token          string        `toml:"token" yaml:"token"`
	RequestTimeout time.Duration `toml:"request_timeout" yaml:"request_timeout" validate:"gte=0"`
}

type BridgeConfig struct {
	KeepMsgs        int           `toml:"keep_msgs" yaml:"keep_msgs" validate:"gte=0"`
	StateDir        string        `toml:"state_dir" yaml:"state_dir"`
	Silent          bool          `toml:"silent" yaml:"silent"`
	LoginTimeout    time.Duration `toml:"login_timeout" yaml:"login_timeout" validate:"gte=0"`
	RecoveryTimeout time.Duration `toml:"recovery_timeout" yaml:"recovery_timeout" validate:"gte=0"`
	FaultPolicy     string        `toml:"fault_policy" yaml:"fault_policy" validate:"omitempty,oneof=halt relogin"`
	Lang            string        `toml:"lang" yaml:"lang" validate:"omitempty,oneof=zh_CN en_US"`
	SendRetries     int           `toml:"send_retries" yaml:"send_retries" validate:"gte=0"`
}

type MediaConfig struct {
	CacheDir        string        `toml:"cache_dir" yaml:"cache_dir"`
	MaxFileBytes    int64         `toml:"max_file_bytes" yaml:"max_file_bytes" validate:"gte=0"`
	FFmpegPath      string        `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	CleanupSchedule string        `toml:"cleanup_schedule" yaml:"cleanup_schedule"`
	CleanupMaxAge   time.Duration `toml:"cleanup_max_age" yaml:"cleanup_max_age" validate:"gte=0"`
}

// Keep returns the bridge retention window with its floor applied.
func (c BridgeConfig) Keep() int {
	if c.KeepMsgs <= 0 {
		return DefaultKeepMsgs
	}
	return max(c.KeepMsgs, MinKeepMsgs)
}

func Default() Config {
	stateDir := os.TempDir()
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeout: DefaultPollTimeout,
		},
		Gateway: GatewayConfig{
			URL:            DefaultGatewayURL,
			RequestTimeout: DefaultRequestTimeout,
		},
		Bridge: BridgeConfig{
			KeepMsgs:        DefaultKeepMsgs,
			StateDir:        stateDir,
			LoginTimeout:    DefaultLoginTimeout,
			RecoveryTimeout: DefaultRecoveryTimeout,
			FaultPolicy:     FaultPolicyHalt,
			Lang:            DefaultLang,
			SendRetries:     DefaultSendRetries,
		},
		Media: MediaConfig{
			MaxFileBytes:    DefaultMaxFileBytes,
			FFmpegPath:      DefaultFFmpegPath,
			CleanupSchedule: DefaultCleanupSchedule,
			CleanupMaxAge:   DefaultCleanupMaxAge,
		},
	}
}

// Load reads the config file at path over the defaults. A missing file yields
// the defaults unvalidated so commands that need no token can still run.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode toml: %w", err)
		}
	}

	cfg.applyFallbacks()
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if strings.TrimSpace(c.Bridge.StateDir) == "" {
		c.Bridge.StateDir = os.TempDir()
	}
	if strings.TrimSpace(c.Media.CacheDir) == "" {
		c.Media.CacheDir = filepath.Join(c.Bridge.StateDir, "wxbridge-media")
	}
	if c.Bridge.SendRetries <= 0 {
		c.Bridge.SendRetries = DefaultSendRetries
	}
	if c.Bridge.LoginTimeout <= 0 {
		c.Bridge.LoginTimeout = DefaultLoginTimeout
	}
	if c.Bridge.RecoveryTimeout <= 0 {
		c.Bridge.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.Gateway.RequestTimeout <= 0 {
		c.Gateway.RequestTimeout = DefaultRequestTimeout
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
