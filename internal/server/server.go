package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	sml "github.com/ashajkofci/gosml"
	"github.com/ashajkofci/gosml/internal/config"
)

const (
	writeTimeout    = time.Second
	shutdownTimeout = 5 * time.Second
)

// Source is the meter state the server publishes.
type Source interface {
	Snapshot() sml.Readings
	Value(name string) (sml.Reading, bool)
	LastFrame() time.Time
}

type Options struct {
	Meter       config.MeterConfig
	Entities    []config.EntityConfig
	Addr        string
	CorsOrigins []string
	Logger      zerolog.Logger
}

// Server publishes the latest readings of one meter over HTTP and pushes
// every decode cycle to websocket subscribers.
type Server struct {
	opts     Options
	source   Source
	entities map[string]config.EntityConfig
	router   *gin.Engine
	hub      *hub
	started  time.Time
}

// ReadingView is a reading with the entity's presentation metadata.
type ReadingView struct {
	sml.Reading
	Unit        string `json:"unit,omitempty"`
	Icon        string `json:"icon,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
}

type readingsMessage struct {
	Meter    string        `json:"meter"`
	Time     time.Time     `json:"time"`
	Readings []ReadingView `json:"readings"`
}

func New(source Source, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(opts.Logger))
	if len(opts.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CorsOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	s := &Server{
		opts:     opts,
		source:   source,
		entities: make(map[string]config.EntityConfig, len(opts.Entities)),
		router:   r,
		hub:      newHub(),
		started:  time.Now(),
	}
	for _, e := range opts.Entities {
		s.entities[e.Name] = e
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish pushes the readings of one decode cycle to stream subscribers.
func (s *Server) Publish(readings sml.Readings) {
	s.hub.broadcast(readings)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/readings", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.message(s.source.Snapshot(), s.source.LastFrame()))
	})
	s.router.GET("/stream", s.stream)
	s.router.GET("/readings/:name", func(c *gin.Context) {
		name := c.Param("name")
		if _, ok := s.entities[name]; !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown entity", "entity": name})
			return
		}
		r, ok := s.source.Value(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no reading yet", "entity": name})
			return
		}
		c.JSON(http.StatusOK, s.view(r))
	})
}

func (s *Server) health(c *gin.Context) {
	last := s.source.LastFrame()
	status := "ok"
	code := http.StatusOK
	if last.IsZero() || time.Since(last) > s.opts.Meter.StaleAfter.Duration {
		status = "stale"
		code = http.StatusServiceUnavailable
	}
	body := gin.H{
		"status":      status,
		"meter":       s.opts.Meter.Name,
		"uptime":      time.Since(s.started).String(),
		"subscribers": s.hub.count(),
	}
	if !last.IsZero() {
		body["last_frame"] = last
	}
	c.JSON(code, body)
}

func (s *Server) stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.opts.CorsOrigins),
	})
	if err != nil {
		s.opts.Logger.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket accept failed")
		return
	}
	remote := c.Request.RemoteAddr
	s.opts.Logger.Info().Str("remote", remote).Msg("stream subscriber connected")
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		s.opts.Logger.Info().Str("remote", remote).Msg("stream subscriber disconnected")
	}()

	updates, cancel := s.hub.subscribe()
	defer cancel()
	ctx := conn.CloseRead(c.Request.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case readings := <-updates:
			if err := s.write(ctx, conn, s.message(readings, time.Now())); err != nil {
				s.opts.Logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg readingsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (s *Server) message(readings sml.Readings, at time.Time) readingsMessage {
	msg := readingsMessage{Meter: s.opts.Meter.Name, Time: at, Readings: make([]ReadingView, 0, len(readings))}
	for _, r := range readings {
		msg.Readings = append(msg.Readings, s.view(r))
	}
	sort.Slice(msg.Readings, func(i, j int) bool { return msg.Readings[i].Name < msg.Readings[j].Name })
	return msg
}

func (s *Server) view(r sml.Reading) ReadingView {
	e := s.entities[r.Name]
	return ReadingView{Reading: r, Unit: e.Unit, Icon: e.Icon, DeviceClass: e.DeviceClass, StateClass: e.StateClass}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.opts.Addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// originPatterns converts CORS origins to the host patterns the websocket
// handshake checks.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, strings.TrimSpace(o))
	}
	return out
}
