package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alex1987chn/xpouch-ai-sub000/internal/shared/logging"
	"github.com/alex1987chn/xpouch-ai-sub000/internal/tasksession/api"
)

const heartbeatInterval = 30 * time.Second

// TimedEvent is one scripted progress frame, emitted After the stream opens.
type TimedEvent struct {
	After time.Duration
	Event api.ProgressEvent
}

// Script describes the mock conversation the harness serves: the snapshot
// returned by the authoritative endpoint and the event timeline replayed on
// the SSE stream.
type Script struct {
	ConversationID string
	Snapshot       api.ConversationSnapshot
	Events         []TimedEvent
}

// Config holds the harness server settings.
type Config struct {
	Host       string
	Port       int
	EnableCORS bool
	Debug      bool
}

// DefaultConfig returns the local-development defaults.
func DefaultConfig() Config {
	return Config{Host: "localhost", Port: 8098, EnableCORS: true}
}

// Server is a self-contained mock of the conversation backend, used by the
// watch command and by integration-style tests of the engine's outer loop.
type Server struct {
	config Config
	script Script
	logger logging.Logger

	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer wires the harness routes.
func NewServer(config Config, script Script, logger logging.Logger) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if config.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Cache-Control"}
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		config: config,
		script: script,
		logger: logging.OrNop(logger),
		engine: engine,
	}

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/api/conversations/:id", s.handleSnapshot)
	engine.GET("/api/conversations/:id/events", s.handleEvents)

	return s
}

// Handler exposes the route tree, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses outlive any fixed write deadline
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev harness listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("devserver: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleSnapshot(c *gin.Context) {
	id := c.Param("id")
	if id != s.script.ConversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
		return
	}
	c.JSON(http.StatusOK, s.script.Snapshot)
}

func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	if id != s.script.ConversationID {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown conversation"})
		return
	}

	writer := c.Writer
	writer.Header().Set("Content-Type", "text/event-stream")
	writer.Header().Set("Cache-Control", "no-cache")
	writer.Header().Set("Connection", "keep-alive")
	writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if _, err := fmt.Fprintf(writer, "event: connected\ndata: {\"conversation_id\":%q}\n\n", id); err != nil {
		return
	}
	flusher.Flush()
	s.logger.Info("streaming %d scripted events for conversation %s", len(s.script.Events), id)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	start := time.Now()
	for _, timed := range s.script.Events {
		delay := timed.After - time.Since(start)
		for delay > 0 {
			select {
			case <-c.Request.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(writer, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case <-time.After(delay):
			}
			delay = timed.After - time.Since(start)
		}

		data, err := json.Marshal(timed.Event)
		if err != nil {
			s.logger.Error("failed to serialize scripted event: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(writer, "event: %s\ndata: %s\n\n", timed.Event.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}
