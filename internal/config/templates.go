package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "kioskd":
		return kioskdTemplate, nil
	case "kioskctl":
		return kioskctlTemplate, nil
	case "addressbook":
		return addressBookTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const kioskdTemplate = `id = "kiosk.lobby"
listen_addr = ":5000"
http_listen_addr = ""
cors_origins = ["http://localhost:3000"]
default_image = ""
info_text = "Waiting for images on port 5000"
no_default_text = "No default image configured"
stream_threshold_bytes = 52428800
max_pixels = 67108864
temp_dir = ""
max_connections = 0
surface_width = 1920
surface_height = 1080
connect_timeout = "10s"
read_timeout = "12s"
write_timeout = "12s"
transfer_timeout = "10m"
`

const kioskctlTemplate = `address_book = "ips.txt"
port = 5000
connect_timeout = "10s"
read_timeout = "12s"
write_timeout = "12s"
parallelism = 8
max_connect_attempts = 1
wait_ack = true
`

const addressBookTemplate = `# ip,name
127.0.0.1,local
`
