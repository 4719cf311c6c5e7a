package presenter

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-tileinfer/capture"
	"github.com/nvr-ai/go-tileinfer/controller"
	"github.com/nvr-ai/go-tileinfer/models"
	"github.com/nvr-ai/go-tileinfer/profiler"
)

// Upgrader accepts websocket connections from any origin.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LoopControl is the part of the capture loop the server drives.
type LoopControl interface {
	State() controller.State
	RunID() uuid.UUID
	Err() error
	Stop() error
}

// StartFunc loads model and starts a run with it.
type StartFunc func(ctx context.Context, model string) error

// ServerConfig wires the HTTP API to the rest of the application.
type ServerConfig struct {
	// Mode is the gin mode: "debug", "release" or "test".
	Mode     string
	Loop     LoopControl
	Region   *capture.RegionRef
	Registry *models.Registry
	Hub      *Hub
	Profiler *profiler.Profiler
	// Start is called by POST /start. Nil disables the endpoint.
	Start StartFunc
	// Model returns the name of the loaded model.
	Model  func() string
	Logger *zap.SugaredLogger
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg    ServerConfig
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Model == nil {
		cfg.Model = func() string { return "" }
	}
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	s := &Server{cfg: cfg}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(cfg.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", s.status)
	r.GET("/region", s.getRegion)
	r.PUT("/region", s.putRegion)
	r.GET("/models", s.listModels)
	r.GET("/models/:name", s.getModel)
	r.POST("/start", s.start)
	r.POST("/stop", s.stop)
	if cfg.Hub != nil {
		r.GET("/ws", s.websocket)
	}

	s.engine = r
	return s
}

// Handler returns the router for use with httptest or a custom server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.cfg.Logger.Infow("http server listening", "addr", addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdown)
	}
}

func requestLogger(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debugw("request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"cost", time.Since(start),
		)
	}
}

func (s *Server) status(c *gin.Context) {
	body := gin.H{"model": s.cfg.Model()}
	if s.cfg.Loop != nil {
		body["state"] = s.cfg.Loop.State().String()
		if id := s.cfg.Loop.RunID(); id != uuid.Nil {
			body["run_id"] = id.String()
		}
		if err := s.cfg.Loop.Err(); err != nil {
			body["error"] = err.Error()
		}
	}
	if s.cfg.Region != nil {
		if r, ok := s.cfg.Region.Load(); ok {
			body["region"] = r
		}
	}
	if s.cfg.Hub != nil {
		body["clients"] = s.cfg.Hub.ClientCount()
	}
	if timings := s.cfg.Profiler.Summaries(); len(timings) > 0 {
		body["timings"] = timings
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getRegion(c *gin.Context) {
	if s.cfg.Region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no region configured"})
		return
	}
	r, ok := s.cfg.Region.Load()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no region selected"})
		return
	}
	c.JSON(http.StatusOK, r)
}

// putRegion replaces the capture region. A running loop picks it up on its next
// iteration.
func (s *Server) putRegion(c *gin.Context) {
	if s.cfg.Region == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no region configured"})
		return
	}
	var r capture.Region
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.cfg.Region.Store(r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.cfg.Logger.Infow("capture region changed", "region", r.String())
	c.JSON(http.StatusOK, r)
}

type modelSummary struct {
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Kind     models.Kind `json:"kind"`
	TileSize int         `json:"tile_size"`
}

func (s *Server) listModels(c *gin.Context) {
	if s.cfg.Registry == nil {
		c.JSON(http.StatusOK, gin.H{"categories": []models.Category{}})
		return
	}
	categories := s.cfg.Registry.Categories()
	list := make(map[string][]modelSummary, len(categories))
	for _, cat := range categories {
		list[cat.Name] = lo.FilterMap(cat.Models, func(name string, _ int) (modelSummary, bool) {
			e, err := s.cfg.Registry.Get(name)
			if err != nil {
				return modelSummary{}, false
			}
			return modelSummary{Name: e.Name, Category: e.Category, Kind: e.Kind, TileSize: e.TileSize}, true
		})
	}
	c.JSON(http.StatusOK, gin.H{"categories": list})
}

func (s *Server) getModel(c *gin.Context) {
	if s.cfg.Registry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no registry loaded"})
		return
	}
	e, err := s.cfg.Registry.Get(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	classes, _ := s.cfg.Registry.Classes(e.Name)
	c.JSON(http.StatusOK, gin.H{
		"name":           e.Name,
		"category":       e.Category,
		"kind":           e.Kind,
		"tile_size":      e.TileSize,
		"classes":        classes,
		"info":           e.Info,
		"recommendation": models.Recommendation(e.TileSize),
	})
}

type startRequest struct {
	Model string `json:"model" binding:"required"`
}

// start refuses to switch models while a run is in progress.
func (s *Server) start(c *gin.Context) {
	if s.cfg.Start == nil || s.cfg.Loop == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "starting runs is disabled"})
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if st := s.cfg.Loop.State(); st != controller.StateIdle {
		c.JSON(http.StatusConflict, gin.H{"error": controller.ErrAlreadyRunning.Error(), "state": st.String()})
		return
	}

	err := s.cfg.Start(context.Background(), req.Model)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"model": req.Model, "run_id": s.cfg.Loop.RunID().String()})
	case errors.Is(err, controller.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnknownModel):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, controller.ErrConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) stop(c *gin.Context) {
	if s.cfg.Loop == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no capture loop"})
		return
	}
	body := gin.H{"state": controller.StateIdle.String()}
	if err := s.cfg.Loop.Stop(); err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// websocket upgrades the request and keeps the connection registered until the client
// goes away. Incoming messages are ignored.
func (s *Server) websocket(c *gin.Context) {
	conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.cfg.Logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	conn.SetReadLimit(512)

	ctx := c.Request.Context()
	s.cfg.Hub.Register(ctx, conn)
	defer s.cfg.Hub.Unregister(context.Background(), conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
