package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/kioskpush/internal/kiosk"
)

type fileConfig struct {
	ID                   string   `toml:"id"`
	ListenAddr           string   `toml:"listen_addr"`
	HTTPListenAddr       string   `toml:"http_listen_addr"`
	CORSOrigins          []string `toml:"cors_origins"`
	DefaultImage         string   `toml:"default_image"`
	InfoText             string   `toml:"info_text"`
	NoDefaultText        string   `toml:"no_default_text"`
	StreamThresholdBytes int64    `toml:"stream_threshold_bytes"`
	ChunkSize            int      `toml:"chunk_size"`
	MaxPixels            int64    `toml:"max_pixels"`
	TempDir              string   `toml:"temp_dir"`
	MaxConnections       int      `toml:"max_connections"`
	SurfaceWidth         int      `toml:"surface_width"`
	SurfaceHeight        int      `toml:"surface_height"`
	ConnectTimeout       string   `toml:"connect_timeout"`
	ReadTimeout          string   `toml:"read_timeout"`
	WriteTimeout         string   `toml:"write_timeout"`
	TransferTimeout      string   `toml:"transfer_timeout"`
}

func loadServiceConfig(path string) (kiosk.ServiceConfig, error) {
	cfg := kiosk.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return kiosk.ServiceConfig{}, fmt.Errorf("load kiosk config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return kiosk.ServiceConfig{}, fmt.Errorf("load kiosk config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("http_listen_addr") {
		cfg.HTTPListenAddr = strings.TrimSpace(raw.HTTPListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("default_image") {
		cfg.DefaultImagePath = strings.TrimSpace(raw.DefaultImage)
	}
	if meta.IsDefined("info_text") {
		cfg.InfoText = raw.InfoText
	}
	if meta.IsDefined("no_default_text") {
		cfg.NoDefaultText = raw.NoDefaultText
	}
	if meta.IsDefined("stream_threshold_bytes") {
		cfg.StreamThreshold = raw.StreamThresholdBytes
	}
	if meta.IsDefined("chunk_size") {
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("max_pixels") {
		cfg.MaxPixels = raw.MaxPixels
	}
	if meta.IsDefined("temp_dir") {
		cfg.TempDir = strings.TrimSpace(raw.TempDir)
	}
	if meta.IsDefined("max_connections") {
		cfg.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("surface_width") {
		cfg.SurfaceWidth = raw.SurfaceWidth
	}
	if meta.IsDefined("surface_height") {
		cfg.SurfaceHeight = raw.SurfaceHeight
	}

	timeouts := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"transfer_timeout", raw.TransferTimeout, &cfg.TransferTimeout},
	}
	for _, tc := range timeouts {
		if !meta.IsDefined(tc.key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(tc.raw))
		if err != nil {
			return kiosk.ServiceConfig{}, fmt.Errorf("parse %s: %w", tc.key, err)
		}
		*tc.dst = d
	}

	if err := cfg.Validate(); err != nil {
		return kiosk.ServiceConfig{}, err
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
