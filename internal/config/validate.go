package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MelcherMate/ERA-Water-Purifier/internal/registers"
)

// MaxBatchSize is the most rows one INSERT can carry: PostgreSQL accepts
// 65535 bind parameters and every measurement row uses three.
const MaxBatchSize = 65535 / 3

// ValidateAcquisition checks what the acquisition loop needs.
// It MUST NOT mutate configuration.
func ValidateAcquisition(cfg *Config) error {
	m := cfg.Modbus
	switch strings.ToLower(strings.TrimSpace(m.Protocol)) {
	case "modbus-tcp", "tcp":
		if m.Connection.Host == "" {
			return errors.New("modbus.connection.host is required for TCP")
		}
	case "modbus-rtu", "rtu":
		if m.Connection.SerialPort == "" {
			return errors.New("modbus.connection.serial_port is required for RTU")
		}
	default:
		return fmt.Errorf("modbus.protocol %q not supported", m.Protocol)
	}
	if m.RegisterMap == "" {
		return errors.New("modbus.register_map is required")
	}
	if m.ChunkSize < 1 || m.ChunkSize > 125 {
		return fmt.Errorf("modbus.chunk_size %d out of range 1..125", m.ChunkSize)
	}
	if m.Padding < 0 {
		return errors.New("modbus.padding must be >= 0")
	}
	if _, err := registers.ParseOrder(m.WordOrder, m.ByteOrder); err != nil {
		return fmt.Errorf("modbus: %w", err)
	}
	if cfg.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}
	return nil
}

// ValidateSync checks what the sync orchestrator needs.
func ValidateSync(cfg *Config) error {
	if strings.TrimSpace(cfg.Device.ShortName) == "" {
		return errors.New("device.short_name is required")
	}
	if cfg.Remote.URL == "" {
		return errors.New("remote.url is required")
	}
	if cfg.Storage.DBPath == "" {
		return errors.New("storage.db_path is required")
	}
	if len(cfg.Sync.Channels) == 0 {
		return errors.New("sync.channels must list at least one channel")
	}
	if cfg.Remote.BatchSize <= 0 {
		return errors.New("remote.batch_size must be > 0")
	}
	if cfg.Remote.BatchSize > MaxBatchSize {
		return fmt.Errorf("remote.batch_size %d exceeds %d rows per insert", cfg.Remote.BatchSize, MaxBatchSize)
	}
	if cfg.Sync.CatchupWindow < 0 {
		return errors.New("sync.catchup_window must be >= 0")
	}

	wanted := make(map[string]bool, len(cfg.Sync.Channels))
	for _, ch := range cfg.Sync.Channels {
		if wanted[ch] {
			return fmt.Errorf("sync.channels: %q listed twice", ch)
		}
		wanted[ch] = true
	}
	targets := make(map[string]bool)
	for _, d := range cfg.Sync.Deltas {
		if d.Source == "" || d.Target == "" {
			return errors.New("sync.deltas: source and target are required")
		}
		if !wanted[d.Source] {
			return fmt.Errorf("sync.deltas: source %q is not in sync.channels", d.Source)
		}
		if wanted[d.Target] {
			return fmt.Errorf("sync.deltas: target %q collides with a raw channel", d.Target)
		}
		if targets[d.Target] {
			return fmt.Errorf("sync.deltas: target %q defined twice", d.Target)
		}
		targets[d.Target] = true
	}
	return nil
}
