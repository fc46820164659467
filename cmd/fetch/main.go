package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/logger"
	"marketdata/internal/provider/fred"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/validate"
)

type output struct {
	Quotes       map[string]yahoo.Quote `json:"quotes,omitempty"`
	Series       *fred.Series           `json:"series,omitempty"`
	Observations []fred.Observation     `json:"observations,omitempty"`
}

func main() {
	var symbolsCSV string
	var seriesID string
	var start, end string
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL,MSFT"), "comma-separated ticker symbols")
	flag.StringVar(&seriesID, "series", getenv("FRED_SERIES", ""), "FRED series id to print (optional, needs FRED_API_KEY)")
	flag.StringVar(&start, "start", "", "observation start date YYYY-MM-DD")
	flag.StringVar(&end, "end", "", "observation end date YYYY-MM-DD")
	flag.IntVar(&timeout, "timeout", 0, "overall timeout seconds (default: config request timeout)")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}
	lg, err := logger.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	a := app.New(ctx, cfg, lg, nil)
	defer func() { _ = a.Close() }()

	var out output
	if symbols := config.SplitCSV(symbolsCSV); len(symbols) > 0 {
		out.Quotes, err = a.Yahoo.Quotes.Quotes(ctx, symbols)
		if err != nil {
			lg.Fatal("quotes", zap.Error(err))
		}
	}
	if seriesID != "" {
		from, err := validate.Date("start", start)
		if err != nil {
			lg.Fatal("start", zap.Error(err))
		}
		to, err := validate.Date("end", end)
		if err != nil {
			lg.Fatal("end", zap.Error(err))
		}
		s, err := a.Macro.Series(ctx, seriesID)
		if err != nil {
			lg.Fatal("series", zap.Error(err))
		}
		out.Series = &s
		out.Observations, err = a.Macro.Observations(ctx, seriesID, from, to)
		if err != nil {
			lg.Fatal("observations", zap.Error(err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		lg.Fatal("encode", zap.Error(err))
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
