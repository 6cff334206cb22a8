// Command backtest runs the simulator and walk-forward validation over
// a CSV candle file and prints the JSON report.
//
// Usage:
//
//	backtest -file candles.csv [-seed 42] [-train 0.8] [-symbol ES] [-validate]
//
// The CSV columns are: time,open,high,low,close,volume. Time is either
// unix seconds or RFC 3339. A header row is skipped automatically.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"futures-trading-engine/internal/adaptive"
	"futures-trading-engine/internal/backtest"
	"futures-trading-engine/internal/logging"
	"futures-trading-engine/internal/market"
)

func main() {
	var (
		file       = flag.String("file", "", "CSV candle file (required)")
		seed       = flag.Int64("seed", 0, "RNG seed, 0 for time-derived")
		train      = flag.Float64("train", 0.8, "train fraction for walk-forward")
		symbol     = flag.String("symbol", "ES", "instrument symbol")
		pointValue = flag.Float64("point-value", 50, "dollars per point per contract")
		validate   = flag.Bool("validate", false, "run walk-forward validation instead of a single pass")
		logLevel   = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New(*logLevel, true)

	candles, err := loadCandles(*file)
	if err != nil {
		logger.Fatal().Err(err).Str("file", *file).Msg("failed to load candles")
	}
	logger.Info().Int("bars", len(candles)).Msg("candles loaded")

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	cfg := backtest.DefaultConfig()
	cfg.Symbol = *symbol
	cfg.PointValue = *pointValue

	engine := backtest.NewEngine(
		adaptive.NewEngine(nil, nil, nil, zerolog.Nop()),
		cfg,
		rand.New(rand.NewSource(*seed)),
		logger,
	)

	var report any
	if *validate {
		report, err = backtest.NewValidator(engine, *train, logger).Validate(candles)
	} else {
		report, err = engine.Run(candles, nil)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to encode report")
	}
	fmt.Println(string(out))
}

// loadCandles parses the CSV candle file in ascending time order.
func loadCandles(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 6

	var candles []market.Candle
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && record[0] == "time" {
			continue // header
		}

		ts, err := parseTime(record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad time %q: %w", line, record[0], err)
		}
		fields := make([]float64, 5)
		for i := 0; i < 5; i++ {
			fields[i], err = strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q: %w", line, record[i+1], err)
			}
		}
		candles = append(candles, market.Candle{
			Time:   ts,
			Open:   fields[0],
			High:   fields[1],
			Low:    fields[2],
			Close:  fields[3],
			Volume: fields[4],
		})
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	return candles, nil
}

func parseTime(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
