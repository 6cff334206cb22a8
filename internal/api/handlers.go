package api

import (
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/strategies"
)

// handleStatus reports the live state of every component in one shot.
func (s *Server) handleStatus(c *gin.Context) {
	state, err := s.tracker.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	breakerState, tripReason := s.breaker.State()

	perf := gin.H{}
	for _, strat := range s.engine.Strategies() {
		entry := gin.H{"weight": s.engine.StrategyWeight(strat.Name())}
		if p, ok := s.engine.Performance(strat.Name()); ok {
			entry["trades"] = p.Trades()
			entry["win_rate"] = p.WinRate()
			entry["profit_factor"] = p.ProfitFactor()
		}
		perf[strat.Name()] = entry
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   s.cfg.Symbol,
		"interval": s.cfg.Interval,
		"trading": gin.H{
			"enabled":       state.Enabled,
			"position_open": state.Position != nil,
			"daily_pnl":     state.DailyPnL,
			"daily_trades":  state.DailyTrades,
			"total_pnl":     state.TotalPnL,
			"wins":          state.Wins,
			"losses":        state.Losses,
		},
		"breaker": gin.H{
			"state":  breakerState,
			"reason": tripReason,
		},
		"learning": gin.H{
			"recorded_trades":      s.engine.HistoryLen(),
			"confidence_threshold": s.engine.ConfidenceThreshold(),
			"strategies":           perf,
		},
	})
}

// handlePosition returns the open position and recent trade history.
func (s *Server) handlePosition(c *gin.Context) {
	state, err := s.tracker.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"position": state.Position,
		"history":  state.History,
	})
}

// handleSignal evaluates the current candle window without trading on it.
func (s *Server) handleSignal(c *gin.Context) {
	candles, err := s.feed.Candles(c.Request.Context(), s.cfg.Symbol, s.cfg.Interval, s.cfg.WindowBars)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	f := s.engine.Extract(candles)
	sig := s.engine.Evaluate(candles)

	c.JSON(http.StatusOK, gin.H{
		"signal": sig,
		"features": gin.H{
			"rsi_14":                f.RSI14,
			"atr_ratio":             f.ATRRatio,
			"trend_strength":        f.TrendStrength,
			"volume_ratio":          f.VolumeRatio,
			"volatility_percentile": f.VolatilityPercentile,
			"is_rth":                f.IsRTH,
		},
		"bars": len(candles),
	})
}

// backtestRequest narrows a simulation run. Zero values fall back to
// the server's configured defaults.
type backtestRequest struct {
	Bars     int    `json:"bars"`
	Seed     int64  `json:"seed"`
	Strategy string `json:"strategy"` // empty runs the full set
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	candles, err := s.feed.Candles(c.Request.Context(), s.cfg.Symbol, s.cfg.Interval, req.Bars)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	set, ok := s.strategySet(req.Strategy)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy: " + req.Strategy})
		return
	}

	result, err := s.simEngine(req.Seed).Run(candles, set)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidate(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	candles, err := s.feed.Candles(c.Request.Context(), s.cfg.Symbol, s.cfg.Interval, req.Bars)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	validator := backtest.NewValidator(s.simEngine(req.Seed), s.cfg.TrainFraction, s.logger)
	result, err := validator.Validate(candles)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// simEngine builds a one-shot simulator with fresh learned state, so
// API-triggered runs never contaminate the live engine.
func (s *Server) simEngine(seed int64) *backtest.Engine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fresh := adaptive.NewEngine(nil, nil, nil, zerolog.Nop())
	return backtest.NewEngine(fresh, s.cfg.Simulation, rand.New(rand.NewSource(seed)), s.logger)
}

// strategySet resolves a strategy name to a single-element set; empty
// name means the full configured set.
func (s *Server) strategySet(name string) ([]strategies.Strategy, bool) {
	if name == "" {
		return nil, true
	}
	for _, strat := range strategies.DefaultSet() {
		if strat.Name() == name {
			return []strategies.Strategy{strat}, true
		}
	}
	return nil, false
}

// ====================================================================
// Live trading controls
// ====================================================================

func (s *Server) handleEnable(c *gin.Context) {
	if err := s.tracker.SetEnabled(c.Request.Context(), true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Msg("trading enabled via API")
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

func (s *Server) handleDisable(c *gin.Context) {
	if err := s.tracker.SetEnabled(c.Request.Context(), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info().Msg("trading disabled via API")
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (s *Server) handleResetDaily(c *gin.Context) {
	if err := s.tracker.ResetDaily(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// handleForceClear drops the tracked position without a trade record.
// Manual reconciliation with the venue is the operator's job.
func (s *Server) handleForceClear(c *gin.Context) {
	if err := s.tracker.ForceClear(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Warn().Msg("position force-cleared via API")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	s.breaker.Reset()
	c.JSON(http.StatusOK, gin.H{"breaker": "closed"})
}

// handleEmergencyStop disables new entries and clears any tracked
// position in one call.
func (s *Server) handleEmergencyStop(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.tracker.SetEnabled(ctx, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cleared := false
	if err := s.tracker.ForceClear(ctx); err == nil {
		cleared = true
	}
	s.logger.Warn().Bool("position_cleared", cleared).Msg("emergency stop via API")
	c.JSON(http.StatusOK, gin.H{"enabled": false, "position_cleared": cleared})
}
