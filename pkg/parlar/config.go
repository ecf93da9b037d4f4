package parlar

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harunnryd/parlar/pkg/configutil"
)

type Config struct {
	Session     SessionConfig `mapstructure:"session"`
	Audio       AudioConfig   `mapstructure:"audio"`
	Turn        TurnConfig    `mapstructure:"turn"`
	BargeIn     BargeInConfig `mapstructure:"barge_in"`
	Environment string        `mapstructure:"environment"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
}

type SessionConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	BaseURL      string `mapstructure:"base_url"`
	Voice        string `mapstructure:"voice"`
	Instructions string `mapstructure:"instructions"`
	// Server VAD endpointing.
	VADThreshold    float64 `mapstructure:"vad_threshold"`
	SilenceMS       int     `mapstructure:"silence_ms"`
	PrefixPaddingMS int     `mapstructure:"prefix_padding_ms"`
}

type AudioConfig struct {
	SampleRate    int  `mapstructure:"sample_rate"`
	FrameMS       int  `mapstructure:"frame_ms"`
	HalfDuplex    bool `mapstructure:"half_duplex"`
	MaxBufferedMS int  `mapstructure:"max_buffered_ms"`
}

type TurnConfig struct {
	PauseFloorMS          int `mapstructure:"pause_floor_ms"`
	PauseCeilingMS        int `mapstructure:"pause_ceiling_ms"`
	ResponseWatchdogMS    int `mapstructure:"response_watchdog_ms"`
	SuppressAfterCancelMS int `mapstructure:"suppress_after_cancel_ms"`
}

type BargeInConfig struct {
	EnergyThreshold float64  `mapstructure:"energy_threshold"`
	OnsetMS         int      `mapstructure:"onset_ms"`
	CooldownMS      int      `mapstructure:"cooldown_ms"`
	Keywords        []string `mapstructure:"keywords"`
}

// LoadConfig reads the YAML config at path, applying defaults for every
// key and expanding ${ENV} references in string values. A .env file in
// the working directory seeds the environment first; variables already
// set win over .env entries. An empty path runs on defaults alone, which
// needs only OPENAI_API_KEY.
func LoadConfig(path string) (Config, error) {
	// Load never overrides variables the process already has.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("session.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("session.model", "gpt-realtime")
	v.SetDefault("session.base_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("session.voice", "marin")
	v.SetDefault("session.instructions", "")
	v.SetDefault("session.vad_threshold", 0.55)
	v.SetDefault("session.silence_ms", 350)
	v.SetDefault("session.prefix_padding_ms", 100)
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.frame_ms", 20)
	v.SetDefault("audio.half_duplex", false)
	v.SetDefault("audio.max_buffered_ms", 1000)
	v.SetDefault("turn.pause_floor_ms", 200)
	v.SetDefault("turn.pause_ceiling_ms", 700)
	v.SetDefault("turn.response_watchdog_ms", 5000)
	v.SetDefault("turn.suppress_after_cancel_ms", 800)
	v.SetDefault("barge_in.energy_threshold", 0.22)
	v.SetDefault("barge_in.onset_ms", 40)
	v.SetDefault("barge_in.cooldown_ms", 400)
	v.SetDefault("barge_in.keywords", []string{"stop", "wait", "hold on", "hey"})
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Session.APIKey, "session.api_key"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Session.Model, "session.model"); err != nil {
		return err
	}
	if err := configutil.FloatInRange(c.Session.VADThreshold, 0, 1, "session.vad_threshold"); err != nil {
		return err
	}
	if err := configutil.FloatInRange(c.BargeIn.EnergyThreshold, 0, 1, "barge_in.energy_threshold"); err != nil {
		return err
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.FrameMS <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive, got %d", c.Audio.FrameMS)
	}
	if c.Turn.PauseCeilingMS < c.Turn.PauseFloorMS {
		return fmt.Errorf("turn.pause_ceiling_ms (%d) below turn.pause_floor_ms (%d)",
			c.Turn.PauseCeilingMS, c.Turn.PauseFloorMS)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	cfg.Session.APIKey = os.ExpandEnv(cfg.Session.APIKey)
	cfg.Session.Model = os.ExpandEnv(cfg.Session.Model)
	cfg.Session.BaseURL = os.ExpandEnv(cfg.Session.BaseURL)
	cfg.Session.Voice = os.ExpandEnv(cfg.Session.Voice)
	cfg.Session.Instructions = os.ExpandEnv(cfg.Session.Instructions)
}

func (c TurnConfig) pauseFloor() time.Duration {
	return time.Duration(c.PauseFloorMS) * time.Millisecond
}

func (c TurnConfig) pauseCeiling() time.Duration {
	return time.Duration(c.PauseCeilingMS) * time.Millisecond
}
