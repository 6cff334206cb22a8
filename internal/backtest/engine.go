package backtest

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/features"
	"futures-trading-engine/internal/market"
	"futures-trading-engine/internal/strategies"
)

// ErrInsufficientData is returned when the candle series cannot cover
// the warmup window.
var ErrInsufficientData = errors.New("not enough candles for warmup")

// Config holds the simulation cost model and limits.
type Config struct {
	Symbol               string
	PointValue           float64 // dollars per point per contract
	Contracts            int
	CommissionPerSide    float64 // per contract, per side
	ExchangeFeePerSide   float64
	RegulatoryFeePerSide float64
	SlippageATRFraction  float64 // base slippage as a fraction of ATR14
	MaxTradesPerDay      int
	RejectionProbability float64
	WarmupBars           int
	Location             *time.Location // exchange-local day boundary
}

// DefaultConfig returns the stock cost model for one ES contract.
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		loc = time.UTC
	}
	return Config{
		Symbol:               "ES",
		PointValue:           50.0,
		Contracts:            1,
		CommissionPerSide:    2.25,
		ExchangeFeePerSide:   1.38,
		RegulatoryFeePerSide: 0.02,
		SlippageATRFraction:  0.05,
		MaxTradesPerDay:      5,
		RejectionProbability: 0.02,
		WarmupBars:           50,
		Location:             loc,
	}
}

func (c Config) feesPerRoundTrip() float64 {
	perSide := c.CommissionPerSide + c.ExchangeFeePerSide + c.RegulatoryFeePerSide
	return perSide * 2 * float64(c.Contracts)
}

// Engine replays a candle series against the strategy set, entering on
// the first accepted proposal per bar and exiting on stop, target, or
// end of day. One position at a time.
//
// The random source drives slippage jitter and order rejections only;
// a fixed seed makes two runs over identical candles bit-identical.
type Engine struct {
	adaptive *adaptive.Engine
	cfg      Config
	rng      *rand.Rand
	logger   zerolog.Logger
}

// NewEngine builds a simulator. rng must not be nil.
func NewEngine(adaptiveEngine *adaptive.Engine, cfg Config, rng *rand.Rand, logger zerolog.Logger) *Engine {
	if cfg.WarmupBars < features.MinHistory {
		cfg.WarmupBars = features.MinHistory
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Contracts <= 0 {
		cfg.Contracts = 1
	}
	return &Engine{
		adaptive: adaptiveEngine,
		cfg:      cfg,
		rng:      rng,
		logger:   logger.With().Str("component", "backtest").Logger(),
	}
}

type openPosition struct {
	trade  Trade
	atr    float64
	isLong bool
}

// Run simulates the strategy set over the candle series. Pass nil to
// use the adaptive engine's full set.
func (e *Engine) Run(candles []market.Candle, set []strategies.Strategy) (*Result, error) {
	if len(candles) <= e.cfg.WarmupBars {
		return nil, fmt.Errorf("%w: have %d, need more than %d", ErrInsufficientData, len(candles), e.cfg.WarmupBars)
	}
	if set == nil {
		set = e.adaptive.Strategies()
	}

	result := &Result{
		Symbol:     e.cfg.Symbol,
		Strategies: strategies.Names(set),
		Bars:       len(candles),
		Trades:     []Trade{},
	}

	var pos *openPosition
	dayTrades := 0
	currentDay := ""

	for i := e.cfg.WarmupBars; i < len(candles); i++ {
		bar := candles[i]

		day := bar.Time.In(e.cfg.Location).Format("2006-01-02")
		if day != currentDay {
			currentDay = day
			dayTrades = 0
		}
		lastBarOfDay := i == len(candles)-1 ||
			candles[i+1].Time.In(e.cfg.Location).Format("2006-01-02") != day

		if pos != nil {
			if trade, closed := e.checkExit(pos, bar, lastBarOfDay); closed {
				result.Trades = append(result.Trades, trade)
				pos = nil
			}
			continue
		}

		if lastBarOfDay {
			continue // never open into the close
		}
		if e.cfg.MaxTradesPerDay > 0 && dayTrades >= e.cfg.MaxTradesPerDay {
			continue
		}

		window := candles[:i+1]
		f := e.adaptive.Extract(window)
		r := e.adaptive.Classify(f)

		for _, s := range set {
			p := s.Evaluate(window, f, r)
			if p == nil {
				continue
			}
			// Venues reject a small fraction of orders; skip, never retry.
			if e.rng.Float64() < e.cfg.RejectionProbability {
				result.Rejections++
				break
			}
			stopMult, targetMult := e.adaptive.RiskParams(r, f.ATRRatio)
			pos = e.enter(p, bar, f.ATR14, stopMult, targetMult)
			pos.trade.Regime = r
			dayTrades++
			break
		}
	}

	// A position still open past the last bar was force-closed by the
	// lastBarOfDay branch above, so nothing dangles here.

	result.summarize()
	e.logger.Info().
		Int("bars", result.Bars).
		Int("trades", result.TradeCount).
		Float64("net_pnl", result.NetPnL).
		Msg("simulation complete")
	return result, nil
}

func (e *Engine) enter(p *strategies.Proposal, bar market.Candle, atr, stopMult, targetMult float64) *openPosition {
	isLong := p.Direction == strategies.Long

	slip := e.slippage(atr)
	entry := bar.Close
	if isLong {
		entry += slip
	} else {
		entry -= slip
	}

	trade := Trade{
		EntryTime:  bar.Time,
		Direction:  p.Direction,
		Strategy:   p.Strategy,
		Pattern:    p.Pattern,
		EntryPrice: entry,
		Contracts:  e.cfg.Contracts,
		Slippage:   slip,
	}
	if isLong {
		trade.StopPrice = entry - atr*stopMult
		trade.TargetPrice = entry + atr*targetMult
	} else {
		trade.StopPrice = entry + atr*stopMult
		trade.TargetPrice = entry - atr*targetMult
	}

	return &openPosition{trade: trade, atr: atr, isLong: isLong}
}

// checkExit tests stop first, then target, then end of day. The stop
// priority is the conservative tie-break when one bar spans both levels.
func (e *Engine) checkExit(pos *openPosition, bar market.Candle, lastBarOfDay bool) (Trade, bool) {
	var exitPrice float64
	var reason string

	switch {
	case pos.isLong && bar.Low <= pos.trade.StopPrice:
		exitPrice, reason = pos.trade.StopPrice, "Stop Loss"
	case !pos.isLong && bar.High >= pos.trade.StopPrice:
		exitPrice, reason = pos.trade.StopPrice, "Stop Loss"
	case pos.isLong && bar.High >= pos.trade.TargetPrice:
		exitPrice, reason = pos.trade.TargetPrice, "Take Profit"
	case !pos.isLong && bar.Low <= pos.trade.TargetPrice:
		exitPrice, reason = pos.trade.TargetPrice, "Take Profit"
	case lastBarOfDay:
		exitPrice, reason = bar.Close, "End of Day"
	default:
		return Trade{}, false
	}

	trade := pos.trade
	slip := e.slippage(pos.atr)
	if pos.isLong {
		exitPrice -= slip
	} else {
		exitPrice += slip
	}
	trade.Slippage += slip
	trade.ExitTime = bar.Time
	trade.ExitPrice = exitPrice
	trade.ExitReason = reason

	points := exitPrice - trade.EntryPrice
	if !pos.isLong {
		points = trade.EntryPrice - exitPrice
	}
	trade.GrossPnL = points * e.cfg.PointValue * float64(trade.Contracts)
	trade.Fees = e.cfg.feesPerRoundTrip()
	trade.NetPnL = trade.GrossPnL - trade.Fees

	return trade, true
}

// slippage is the base ATR fraction with bounded jitter in [0.5x, 1.5x].
// Always adverse; the direction handling happens at the call sites.
func (e *Engine) slippage(atr float64) float64 {
	if atr <= 0 || e.cfg.SlippageATRFraction <= 0 {
		return 0
	}
	jitter := 0.5 + e.rng.Float64()
	return atr * e.cfg.SlippageATRFraction * jitter
}
