// Package server exposes persisted decisions and trades to operators over a
// read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"futures-bot/internal/interfaces"
	"futures-bot/internal/logger"
	"futures-bot/internal/storage"
	"futures-bot/internal/types"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

type Config struct {
	Addr       string
	Mode       string
	BotEnabled bool
	Debug      bool
}

type Server struct {
	cfg     Config
	repo    interfaces.Repository
	engine  *gin.Engine
	http    *http.Server
	started time.Time
}

func New(cfg Config, repo interfaces.Repository) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:     cfg,
		repo:    repo,
		engine:  gin.New(),
		started: time.Now(),
	}
	s.engine.Use(gin.Recovery(), requestLog())
	s.setupRoutes()
	s.http = &http.Server{Addr: cfg.Addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.getHealth)
	s.engine.GET("/decisions", s.listDecisions)
	s.engine.GET("/decisions/:id", s.getDecision)
	s.engine.GET("/trades", s.listTrades)
	s.engine.GET("/trades/:id", s.getTrade)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Info(context.Background(), "Starting server", "addr", s.cfg.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) getHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if _, err := s.repo.ListDecisions(c.Request.Context(), types.DecisionFilter{Limit: 1}); err != nil {
		logger.ErrorWithErr(c.Request.Context(), "Health check storage probe failed", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"mode":        s.cfg.Mode,
		"bot_enabled": s.cfg.BotEnabled,
		"uptime_s":    int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) listDecisions(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	ds, err := s.repo.ListDecisions(c.Request.Context(), types.DecisionFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		Limit:  limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if ds == nil {
		ds = []types.Decision{}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": ds, "count": len(ds)})
}

func (s *Server) getDecision(c *gin.Context) {
	d, err := s.repo.GetDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) listTrades(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	status := types.TradeStatus(strings.ToUpper(c.Query("status")))
	switch status {
	case "", types.TradeOpen, types.TradeClosed, types.TradeCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be OPEN, CLOSED or CANCELLED"})
		return
	}
	ts, err := s.repo.ListTrades(c.Request.Context(), types.TradeFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if ts == nil {
		ts = []types.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": ts, "count": len(ts)})
}

func (s *Server) getTrade(c *gin.Context) {
	t, err := s.repo.GetTrade(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func parseLimit(c *gin.Context) (int, bool) {
	v := c.Query("limit")
	if v == "" {
		return DefaultLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	if n > MaxLimit {
		n = MaxLimit
	}
	return n, true
}

func fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	logger.ErrorWithErr(c.Request.Context(), "Request failed", err, "path", c.FullPath())
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
