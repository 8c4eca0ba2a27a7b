package kiosk

import (
	"bytes"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/kioskpush/internal/imagecodec"
	"github.com/danmuck/kioskpush/internal/logging"
	"github.com/danmuck/kioskpush/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Router builds the read-only rendering surface over the display state.
func (s *Service) Router() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, s.cfg.NodeID))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", s.handleHealth)
	r.GET("/display", s.handleDisplay)
	r.GET("/display/image.png", s.handleDisplayImage)
	r.GET("/display/events", s.handleDisplayEvents)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"kiosk":   s.cfg.NodeID,
		"version": version,
	})
}

func (s *Service) handleDisplay(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"kiosk":   s.cfg.NodeID,
		"display": s.display.Current().Summary(),
	})
}

func (s *Service) handleDisplayImage(c *gin.Context) {
	st := s.display.Current()
	if st.Image == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no image shown", "kind": st.Kind.String()})
		return
	}
	etag := strconv.Quote(strconv.FormatUint(st.Seq, 10))
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	img := imagecodec.Fit(st.Image, s.cfg.SurfaceWidth, s.cfg.SurfaceHeight)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("ETag", etag)
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// handleDisplayEvents streams one JSON summary per committed state until
// the client goes away.
func (s *Service) handleDisplayEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("kiosk.routes websocket upgrade failed err=%v", err)
		return
	}
	defer ws.Close()

	updates, cancel := s.display.Subscribe()
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case st, ok := <-updates:
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "display closed"))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
			if err := ws.WriteJSON(st.Summary()); err != nil {
				return
			}
		}
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
