package market

import (
	"context"
)

// Feed supplies historical candle windows for an instrument and timeframe.
// Implementations must return candles in ascending time order.
type Feed interface {
	// Candles returns up to limit of the most recent closed candles.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// StaticFeed serves a fixed candle series. Used by the backtest CLI and tests.
type StaticFeed struct {
	Series []Candle
}

// Candles returns the tail of the static series.
func (f *StaticFeed) Candles(_ context.Context, _ string, _ string, limit int) ([]Candle, error) {
	if limit <= 0 || limit >= len(f.Series) {
		out := make([]Candle, len(f.Series))
		copy(out, f.Series)
		return out, nil
	}
	out := make([]Candle, limit)
	copy(out, f.Series[len(f.Series)-limit:])
	return out, nil
}
