package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// SenderConfig is the kioskctl config file.
type SenderConfig struct {
	AddressBook        string `toml:"address_book"`
	Port               int    `toml:"port"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ReadTimeout        string `toml:"read_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	Parallelism        int    `toml:"parallelism"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	WaitAck            *bool  `toml:"wait_ack"`
}

func DefaultSenderConfig() SenderConfig {
	wait := true
	return SenderConfig{
		AddressBook:        "ips.txt",
		Port:               5000,
		ConnectTimeout:     "10s",
		ReadTimeout:        "12s",
		WriteTimeout:       "12s",
		Parallelism:        8,
		MaxConnectAttempts: 1,
		WaitAck:            &wait,
	}
}

func LoadSenderConfig(path string) (SenderConfig, error) {
	var cfg SenderConfig
	if err := loadToml(path, &cfg); err != nil {
		return SenderConfig{}, err
	}
	cfg = cfg.withDefaults()
	if err := ValidateSenderConfig(cfg); err != nil {
		return SenderConfig{}, err
	}
	return cfg, nil
}

func (c SenderConfig) withDefaults() SenderConfig {
	def := DefaultSenderConfig()
	if strings.TrimSpace(c.AddressBook) == "" {
		c.AddressBook = def.AddressBook
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if strings.TrimSpace(c.ConnectTimeout) == "" {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if strings.TrimSpace(c.ReadTimeout) == "" {
		c.ReadTimeout = def.ReadTimeout
	}
	if strings.TrimSpace(c.WriteTimeout) == "" {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.Parallelism == 0 {
		c.Parallelism = def.Parallelism
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = def.MaxConnectAttempts
	}
	if c.WaitAck == nil {
		c.WaitAck = def.WaitAck
	}
	return c
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateSenderConfig(cfg SenderConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("sender config port out of range: %d", cfg.Port)
	}
	if cfg.Parallelism < 1 {
		return fmt.Errorf("sender config parallelism must be positive")
	}
	if cfg.MaxConnectAttempts < 1 {
		return fmt.Errorf("sender config max_connect_attempts must be positive")
	}
	for name, raw := range map[string]string{
		"connect_timeout": cfg.ConnectTimeout,
		"read_timeout":    cfg.ReadTimeout,
		"write_timeout":   cfg.WriteTimeout,
	} {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("sender config %s invalid: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("sender config %s must be positive", name)
		}
	}
	return nil
}
