// Command analyzer imports daily price history and runs portfolio analyses
// against it, printing the resulting report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"quantfolio/internal/config"
	"quantfolio/internal/database"
	"quantfolio/internal/modules/analysis"
	"quantfolio/internal/modules/history"
	"quantfolio/internal/modules/returns"
	"quantfolio/pkg/logger"
)

func main() {
	importFile := flag.String("import", "", "CSV file of daily prices to import (symbol,date,close)")
	portfolio := flag.String("portfolio", "", "portfolio to analyze, e.g. \"AAPL:0.5,MSFT:0.3,NVDA:0.2\"")
	pretty := flag.Bool("pretty", false, "pretty console log output")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: *pretty})
	ctx := context.Background()

	db, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "history.db"),
		Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer db.Close()

	store := history.NewStore(db.Conn(), log)
	if err := store.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize history schema")
	}

	if *importFile != "" {
		rows, err := store.ImportCSV(ctx, *importFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", *importFile).Msg("Import failed")
		}
		log.Info().Int("rows", rows).Msg("Import complete")
	}

	if *portfolio == "" {
		if *importFile == "" {
			flag.Usage()
			os.Exit(2)
		}
		return
	}

	weights, err := parsePortfolio(*portfolio)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid portfolio specification")
	}

	method, err := returns.ParseMethod(cfg.ReturnMethod)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid return method")
	}

	symbols := make([]string, 0, len(weights))
	for sym := range weights {
		symbols = append(symbols, sym)
	}

	prices, err := store.PriceTable(ctx, symbols, cfg.LookbackDays)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load price history")
	}

	svc := analysis.NewService(log)
	report, err := svc.Analyze(prices, weights, analysis.Options{
		RiskFreeRate:  cfg.RiskFreeRate,
		ReturnMethod:  method,
		VaRConfidence: cfg.VaRConfidence,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode report")
	}
	fmt.Println(string(out))
}

// parsePortfolio parses "SYM:WEIGHT,SYM:WEIGHT" into a weight map.
func parsePortfolio(s string) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		symbol, weightStr, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("malformed entry %q, expected SYMBOL:WEIGHT", part)
		}

		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			return nil, fmt.Errorf("malformed entry %q, empty symbol", part)
		}
		if _, exists := weights[symbol]; exists {
			return nil, fmt.Errorf("duplicate symbol %s", symbol)
		}

		weight, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", symbol, err)
		}
		weights[symbol] = weight
	}

	if len(weights) == 0 {
		return nil, fmt.Errorf("no portfolio entries in %q", s)
	}
	return weights, nil
}
