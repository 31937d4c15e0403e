package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"footprint/internal/footprint"
	"footprint/internal/hub"
	"footprint/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxRequestBytes = 64 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Engine is the part of the ingestion engine exposed to clients.
type Engine interface {
	HandleRequest(sub hub.Subscriber, raw []byte)
	Candles(ctx context.Context, tf footprint.Timeframe) ([]*footprint.Candle, error)
}

type Registry interface {
	Register(s hub.Subscriber)
	Unregister(id string)
	Len() int
}

type HeatmapQuerier interface {
	Query(ctx context.Context, q model.HeatmapQuery) []model.HeatmapBucket
}

type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

type Options struct {
	Addr         string
	Mode         string
	SendBuffer   int
	WriteTimeout time.Duration
}

type Server struct {
	engine  Engine
	hub     Registry
	history HeatmapQuerier
	health  HealthChecker
	opts    Options
	logger  *zap.Logger

	httpServer *http.Server
}

func New(engine Engine, reg Registry, history HeatmapQuerier, health HealthChecker, opts Options, logger *zap.Logger) *Server {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	s := &Server{
		engine:  engine,
		hub:     reg,
		history: history,
		health:  health,
		opts:    opts,
		logger:  logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: s.Router(),
	}
	return s
}

// Router configures the Gin router and its routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", s.healthz)
	r.GET("/ws", s.serveWS)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/candles/:timeframe", s.getCandles)
		v1.GET("/heatmap", s.getHeatmap)
	}
	return r
}

// Start serves HTTP in the background. A listen failure is logged at fatal level.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting http server", zap.String("addr", s.opts.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Fatal("http server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if s.health != nil && !s.health.IsHealthy(ctx) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "subscribers": s.hub.Len()})
}

func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxRequestBytes)

	client := hub.NewClient(conn, s.opts.SendBuffer, s.opts.WriteTimeout, s.logger)
	s.hub.Register(client)
	go client.WritePump()

	defer s.hub.Unregister(client.ID())
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.String("client_id", client.ID()), zap.Error(err))
			}
			return
		}
		s.engine.HandleRequest(client, msg)
	}
}

func (s *Server) getCandles(c *gin.Context) {
	tf, err := footprint.ParseTimeframe(c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candles, err := s.engine.Candles(c.Request.Context(), tf)
	if err != nil {
		if errors.Is(err, footprint.ErrUnknownTimeframe) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("failed to read candles", zap.String("timeframe", string(tf)), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeframe": tf, "data": candles})
}

type heatmapParams struct {
	Start       *int64   `form:"start" binding:"required"`
	Grouping    float64  `form:"grouping"`
	MinQuantity *float64 `form:"min_quantity"`
}

func (s *Server) getHeatmap(c *gin.Context) {
	var p heatmapParams
	if err := c.ShouldBindQuery(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q := model.HeatmapQuery{StartTimeMs: *p.Start, PriceGrouping: p.Grouping, MinQuantity: 0.1}
	if q.PriceGrouping <= 0 {
		q.PriceGrouping = 10
	}
	if p.MinQuantity != nil {
		q.MinQuantity = *p.MinQuantity
	}

	c.JSON(http.StatusOK, gin.H{"data": s.history.Query(c.Request.Context(), q)})
}
