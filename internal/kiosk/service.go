package kiosk

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/kioskpush/internal/display"
	"github.com/danmuck/kioskpush/internal/imagecodec"
	"github.com/danmuck/kioskpush/internal/logging"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/danmuck/kioskpush/internal/protocol/session"
	"golang.org/x/net/netutil"
)

const (
	DefaultPort            = 5000
	DefaultTransferTimeout = 10 * time.Minute
)

var (
	ErrBind          = errors.New("kiosk: bind failed")
	ErrInvalidConfig = errors.New("kiosk: invalid config")
)

// ServiceConfig configures one kiosk receiver process.
type ServiceConfig struct {
	NodeID           string
	ListenAddr       string
	HTTPListenAddr   string
	CORSOrigins      []string
	DefaultImagePath string
	InfoText         string
	NoDefaultText    string
	StreamThreshold  int64
	ChunkSize        int
	MaxPixels        int64
	TempDir          string
	MaxConnections   int
	SurfaceWidth     int
	SurfaceHeight    int
	// TransferTimeout caps one whole connection; Session.ReadTimeout is the
	// longest a read may stall.
	TransferTimeout time.Duration
	Session         session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NodeID:          "kiosk.local",
		ListenAddr:      fmt.Sprintf(":%d", DefaultPort),
		HTTPListenAddr:  "",
		InfoText:        display.DefaultInfoText,
		NoDefaultText:   display.DefaultNoDefaultText,
		StreamThreshold: imagecodec.DefaultThreshold,
		ChunkSize:       imagecodec.DefaultChunkSize,
		MaxPixels:       imagecodec.DefaultMaxPixels,
		TransferTimeout: DefaultTransferTimeout,
		Session:         session.DefaultConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("%w: listen_addr required", ErrInvalidConfig)
	}
	if c.StreamThreshold <= 0 {
		return fmt.Errorf("%w: stream_threshold must be positive", ErrInvalidConfig)
	}
	if c.MaxPixels < 0 {
		return fmt.Errorf("%w: max_pixels must not be negative", ErrInvalidConfig)
	}
	if c.TransferTimeout < 0 {
		return fmt.Errorf("%w: transfer_timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: max_connections must not be negative", ErrInvalidConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

type defaultImage struct {
	img image.Image
}

// Service runs the kiosk listener and its rendering surface.
type Service struct {
	cfg     ServiceConfig
	display *display.Machine
	decoder *imagecodec.Decoder

	defaultImg atomic.Pointer[defaultImage]
	handlers   sync.WaitGroup
	started    time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	cfg.Session = cfg.Session.WithDefaults()
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = DefaultServiceConfig().NodeID
	}
	s := &Service{
		cfg:     cfg,
		started: time.Now(),
		decoder: &imagecodec.Decoder{
			Threshold: cfg.StreamThreshold,
			ChunkSize: cfg.ChunkSize,
			MaxPixels: cfg.MaxPixels,
			Temp:      imagecodec.OSTempFiles{Dir: cfg.TempDir},
		},
	}
	s.display = display.NewMachine(display.Config{
		InfoText:      cfg.InfoText,
		NoDefaultText: cfg.NoDefaultText,
		DefaultImage:  s.DefaultImage,
		OnCommit: func(st display.State) {
			observability.RecordDisplayTransition(st.Kind.String())
		},
	})
	return s
}

// Display exposes the state machine to UI-triggered code paths.
func (s *Service) Display() *display.Machine {
	return s.display
}

func (s *Service) DefaultImage() image.Image {
	if d := s.defaultImg.Load(); d != nil {
		return d.img
	}
	return nil
}

// SetDefaultImage replaces the default image; nil clears it.
func (s *Service) SetDefaultImage(img image.Image) {
	s.defaultImg.Store(&defaultImage{img: img})
}

// Run binds, serves until SIGINT/SIGTERM and then drains handlers.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer s.display.Close()

	if err := s.bootstrap(); err != nil {
		return err
	}
	ln, err := s.listen()
	if err != nil {
		return err
	}

	httpErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.HTTPListenAddr) != "" {
		go func() {
			httpErr <- s.serveHTTP(ctx, s.cfg.HTTPListenAddr)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(ctx, ln)
	}()

	select {
	case err := <-serveErr:
		stop()
		return err
	case err := <-httpErr:
		stop()
		<-serveErr
		return err
	}
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if names := s.cfg.Session.OutsideRecommended(); len(names) > 0 {
		logging.Warnf("kiosk.Service.bootstrap timeouts outside recommended range names=%v", names)
	}
	if path := strings.TrimSpace(s.cfg.DefaultImagePath); path != "" {
		img, format, err := imagecodec.LoadFileLimit(path, s.cfg.MaxPixels)
		if err != nil {
			logging.Warnf("kiosk.Service.bootstrap default image unavailable path=%q err=%v", path, err)
		} else {
			s.SetDefaultImage(img)
			s.display.ShowStatic(img)
			logging.Infof("kiosk.Service.bootstrap default image loaded path=%q format=%s", path, format)
		}
	}
	return nil
}

func (s *Service) listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: addr=%s: %w", ErrBind, s.cfg.ListenAddr, err)
	}
	return ln, nil
}

// Serve accepts on ln until ctx is done, handling each connection on its
// own goroutine, then waits for in-flight handlers. A failed Accept is
// logged and retried after backoff.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	defer s.handlers.Wait()
	defer ln.Close()
	logging.Infof("kiosk.Service.serve listening node=%q addr=%q", s.cfg.NodeID, ln.Addr().String())

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stopped:
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logging.Infof("kiosk.Service.serve shutdown node=%q", s.cfg.NodeID)
				return nil
			}
			attempt++
			logging.Warnf("kiosk.Service.serve accept failed attempt=%d err=%v", attempt, err)
			if err := session.WaitBackoff(ctx, s.cfg.Session.Backoff, attempt, rng); err != nil {
				return nil
			}
			continue
		}
		attempt = 0
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Service) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.Session.ReadTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.Infof("kiosk.Service.serveHTTP listening addr=%q", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%w: http addr=%s: %w", ErrBind, addr, err)
	}
	return nil
}
