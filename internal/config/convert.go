package config

import (
	"strings"
	"time"

	"github.com/danmuck/kioskpush/internal/protocol/session"
	"github.com/danmuck/kioskpush/internal/sender"
)

// ClientConfig maps a validated SenderConfig onto the sender client.
func (c SenderConfig) ClientConfig() sender.Config {
	out := sender.DefaultConfig()
	out.Port = c.Port
	out.Parallelism = c.Parallelism
	out.MaxConnectAttempts = c.MaxConnectAttempts
	if c.WaitAck != nil {
		out.WaitAck = *c.WaitAck
	}
	out.Session = session.Config{
		ConnectTimeout: duration(c.ConnectTimeout),
		ReadTimeout:    duration(c.ReadTimeout),
		WriteTimeout:   duration(c.WriteTimeout),
		Backoff:        out.Session.Backoff,
	}
	return out
}

func duration(raw string) time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(raw))
	return d
}
