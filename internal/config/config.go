package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors config/config.yaml.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Modbus  ModbusConfig  `yaml:"modbus"`
	Storage StorageConfig `yaml:"storage"`
	Remote  RemoteConfig  `yaml:"remote"`
	Sync    SyncConfig    `yaml:"sync"`
	Retry   RetryConfig   `yaml:"retry"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type DeviceConfig struct {
	ShortName string `yaml:"short_name"`
}

type ModbusConfig struct {
	Protocol     string        `yaml:"protocol"` // modbus-tcp | modbus-rtu
	Connection   Connection    `yaml:"connection"`
	SlaveID      uint8         `yaml:"slave_id"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ChunkSize    int           `yaml:"chunk_size"`
	Padding      int           `yaml:"padding"`
	RegisterMap  string        `yaml:"register_map"`
	Sheet        string        `yaml:"sheet"`
	WordOrder    string        `yaml:"word_order"` // low_first | high_first
	ByteOrder    string        `yaml:"byte_order"` // big | swap
	RunOnce      bool          `yaml:"run_once"`
}

type Connection struct {
	// TCP
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RTU
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
}

type StorageConfig struct {
	DBPath      string        `yaml:"db_path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RemoteConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	BatchSize      int           `yaml:"batch_size"`
}

type SyncConfig struct {
	Interval      time.Duration `yaml:"interval"`
	RunOnce       bool          `yaml:"run_once"`
	Channels      []string      `yaml:"channels"`
	Deltas        []DeltaConfig `yaml:"deltas"`
	CatchupWindow time.Duration `yaml:"catchup_window"`
	SweepStale    *bool         `yaml:"sweep_stale"`
}

type DeltaConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoadYAML reads path, applies environment overrides and defaults.
// It does not validate; call Validate for the parts a run needs.
func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyEnv overrides cfg with the deployment's environment variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SHORT_NAME", &cfg.Device.ShortName)
	str("SQLITE_PATH", &cfg.Storage.DBPath)
	str("POSTGRES_URL", &cfg.Remote.URL)
	str("MODBUS_HOST", &cfg.Modbus.Connection.Host)

	if v, ok := lookup("MODBUS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MODBUS_PORT: %w", err)
		}
		cfg.Modbus.Connection.Port = port
	}
	for key, dst := range map[string]*time.Duration{
		"READ_INTERVAL": &cfg.Modbus.PollInterval,
		"SYNC_INTERVAL": &cfg.Sync.Interval,
	} {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}
	return nil
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func ApplyDefaults(cfg *Config) {
	m := &cfg.Modbus
	if m.Protocol == "" {
		m.Protocol = "modbus-tcp"
	}
	if m.Connection.Port == 0 {
		m.Connection.Port = 502
	}
	if m.SlaveID == 0 {
		m.SlaveID = 1
	}
	if m.Timeout <= 0 {
		m.Timeout = 5 * time.Second
	}
	if m.PollInterval <= 0 {
		m.PollInterval = 5 * time.Second
	}
	if m.ChunkSize <= 0 {
		m.ChunkSize = 100
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "data/modbus_data.sqlite"
	}
	if cfg.Storage.BusyTimeout <= 0 {
		cfg.Storage.BusyTimeout = 30 * time.Second
	}
	if cfg.Remote.ConnectTimeout <= 0 {
		cfg.Remote.ConnectTimeout = 10 * time.Second
	}
	if cfg.Remote.BatchSize <= 0 {
		cfg.Remote.BatchSize = 1000
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = 60 * time.Second
	}
	if cfg.Sync.SweepStale == nil {
		on := true
		cfg.Sync.SweepStale = &on
	}
	r := &cfg.Retry
	if r.InitialInterval <= 0 {
		r.InitialInterval = 5 * time.Second
	}
	if r.MaxInterval <= 0 {
		r.MaxInterval = 5 * time.Minute
	}
	if r.Multiplier < 1 {
		r.Multiplier = 2
	}
}
