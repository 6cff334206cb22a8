// Package api exposes the engine's HTTP control surface: health,
// status, signal evaluation, backtesting, walk-forward validation, and
// the live position controls.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/executor"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/position"
)

// Config holds the HTTP server parameters plus the evaluation defaults
// the handlers fall back to when a request omits them.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins string // comma-separated, "*" for all

	Symbol        string
	Interval      string
	WindowBars    int
	TrainFraction float64

	Simulation backtest.Config
}

// Server wires the engine components behind a gin router.
type Server struct {
	cfg     Config
	engine  *adaptive.Engine
	tracker *position.Tracker
	breaker *executor.Breaker
	feed    market.Feed
	logger  zerolog.Logger
}

// NewServer builds the API server around live components. The feed may
// be a stream or a static series; handlers only read from it.
func NewServer(cfg Config, engine *adaptive.Engine, tracker *position.Tracker,
	breaker *executor.Breaker, feed market.Feed, logger zerolog.Logger) *Server {

	if cfg.WindowBars <= 0 {
		cfg.WindowBars = 200
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		tracker: tracker,
		breaker: breaker,
		feed:    feed,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.corsMiddleware())

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)
		api.GET("/position", s.handlePosition)
		api.GET("/signal", s.handleSignal)
		api.POST("/backtest", s.handleBacktest)
		api.GET("/evaluation", s.handleValidate)
		api.POST("/validate", s.handleValidate)

		controls := api.Group("/controls")
		{
			controls.POST("/enable", s.handleEnable)
			controls.POST("/disable", s.handleDisable)
			controls.POST("/reset-daily", s.handleResetDaily)
			controls.POST("/force-clear", s.handleForceClear)
			controls.POST("/reset-breaker", s.handleResetBreaker)
			controls.POST("/emergency-stop", s.handleEmergencyStop)
		}
	}
	return r
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.Router().Run(addr)
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if s.cfg.AllowedOrigins == "" || s.cfg.AllowedOrigins == "*" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = strings.Split(s.cfg.AllowedOrigins, ",")
	}
	return cors.New(config)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
