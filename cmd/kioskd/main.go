package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/kioskpush/internal/kiosk"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "kioskd.toml"

func main() {
	configPath := flag.String("config", "", "path to kioskd TOML config (default kioskd.toml when present)")
	check := flag.Bool("check", false, "validate the config and exit")
	flag.Parse()

	observability.InitLogger("kioskd")
	cfg, err := resolveConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kioskd: %v\n", err)
		os.Exit(2)
	}
	if *check {
		log.Info().Str("listen", cfg.ListenAddr).Str("id", cfg.NodeID).Msg("config ok")
		return
	}

	svc := kiosk.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "kioskd: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfig loads path, or kioskd.toml from the working directory when
// path is empty, falling back to built-in defaults if that is missing.
func resolveConfig(path string) (kiosk.ServiceConfig, error) {
	if path != "" {
		return loadServiceConfig(path)
	}
	if _, err := os.Stat(defaultConfigPath); errors.Is(err, fs.ErrNotExist) {
		cfg := kiosk.DefaultServiceConfig()
		return cfg, cfg.Validate()
	}
	return loadServiceConfig(defaultConfigPath)
}
