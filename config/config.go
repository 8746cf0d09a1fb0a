package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服务端配置（YAML），缺省值见 Defaults
type Config struct {
	UDPAddr  string `yaml:"udp_addr"`
	HTTPAddr string `yaml:"http_addr"`

	TickRateHz          int `yaml:"tick_rate_hz"`
	MaxDatagramSize     int `yaml:"max_datagram_size"`
	RecvBuffer          int `yaml:"recv_buffer"`
	SendBuffer          int `yaml:"send_buffer"`
	MaxDatagramsPerTick int `yaml:"max_datagrams_per_tick"`
	MaxCommandsPerTick  int `yaml:"max_commands_per_tick"`

	SessionTimeout     time.Duration `yaml:"session_timeout"`
	MaxWarnings        int           `yaml:"max_warnings"`
	MalformedTolerance int           `yaml:"malformed_tolerance"`
	PacketHistory      int           `yaml:"packet_history"`
	SendQueue          int           `yaml:"send_queue"`
	MaxSessions        int           `yaml:"max_sessions"`

	MaxRooms        int    `yaml:"max_rooms"`
	DefaultCapacity int    `yaml:"default_capacity"`
	GamesDir        string `yaml:"games_dir"`
	DefaultGame     string `yaml:"default_game"`

	AccountsDB   string `yaml:"accounts_db"`
	RequireLogin bool   `yaml:"require_login"`

	JournalDir         string `yaml:"journal_dir"`
	ObserverEveryTicks int    `yaml:"observer_every_ticks"`

	LogFile   string `yaml:"log_file"`
	LogLevel  string `yaml:"log_level"`
	LogStderr bool   `yaml:"log_stderr"`
}

func Defaults() Config {
	return Config{
		UDPAddr:             ":4242",
		HTTPAddr:            ":8080",
		TickRateHz:          20,
		MaxDatagramSize:     1200,
		RecvBuffer:          4096,
		SendBuffer:          4096,
		MaxDatagramsPerTick: 2048,
		MaxCommandsPerTick:  32,
		SessionTimeout:      5 * time.Second,
		MaxWarnings:         5,
		MalformedTolerance:  3,
		PacketHistory:       64,
		SendQueue:           256,
		MaxSessions:         1024,
		MaxRooms:            128,
		DefaultCapacity:     4,
		GamesDir:            "games",
		DefaultGame:         "arena",
		AccountsDB:          "data/accounts.sqlite",
		JournalDir:          "data/journal",
		ObserverEveryTicks:  5,
		LogFile:             "netarena.log",
		LogLevel:            "info",
	}
}

// Load 读取 YAML 覆盖缺省值；path 为空时只用缺省值
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Normalize 把非正数的数值项还原为缺省值
func (c *Config) Normalize() {
	d := Defaults()
	fix := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fix(&c.TickRateHz, d.TickRateHz)
	fix(&c.MaxDatagramSize, d.MaxDatagramSize)
	fix(&c.RecvBuffer, d.RecvBuffer)
	fix(&c.SendBuffer, d.SendBuffer)
	fix(&c.MaxDatagramsPerTick, d.MaxDatagramsPerTick)
	fix(&c.MaxCommandsPerTick, d.MaxCommandsPerTick)
	fix(&c.MaxWarnings, d.MaxWarnings)
	fix(&c.MalformedTolerance, d.MalformedTolerance)
	fix(&c.PacketHistory, d.PacketHistory)
	fix(&c.SendQueue, d.SendQueue)
	fix(&c.MaxSessions, d.MaxSessions)
	fix(&c.MaxRooms, d.MaxRooms)
	fix(&c.DefaultCapacity, d.DefaultCapacity)
	fix(&c.ObserverEveryTicks, d.ObserverEveryTicks)
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.UDPAddr == "" {
		errs = append(errs, errors.New("udp_addr is required"))
	}
	if c.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz %d exceeds 1000", c.TickRateHz))
	}
	if c.MaxDatagramSize < 16 || c.MaxDatagramSize > 65507 {
		errs = append(errs, fmt.Errorf("max_datagram_size %d out of range [16, 65507]", c.MaxDatagramSize))
	}
	if c.GamesDir == "" {
		errs = append(errs, errors.New("games_dir is required"))
	}
	if c.RequireLogin && c.AccountsDB == "" {
		errs = append(errs, errors.New("require_login needs accounts_db"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// TickInterval 每 Tick 的时长
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}
