package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identityserver/database"
	"identityserver/importer"
	"identityserver/resolution"
	"identityserver/server"
)

func main() {
	dbPath := flag.String("db", "registry.db", "Path to the registry database")
	lotPath := flag.String("lot", "", "Path to the lot spreadsheet (xlsx)")
	sourceTable := flag.String("source-table", "", "Source table the lot rows belong to")
	workers := flag.Int("workers", 4, "Number of concurrent resolution workers")
	tablePath := flag.String("abbreviations", "", "Optional abbreviation table JSON (built-in table by default)")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	if *lotPath == "" || *sourceTable == "" {
		flag.Usage()
		os.Exit(2)
	}

	server.SetupLogger(*logLevel)

	db, err := database.NewRegistryDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open registry database: %v", err)
	}
	defer db.Close()

	table := resolution.DefaultAbbreviationTable()
	if *tablePath != "" {
		table, err = resolution.LoadAbbreviationTable(*tablePath)
		if err != nil {
			log.Fatalf("failed to load abbreviation table: %v", err)
		}
	}
	normalizer := resolution.NewEntityNormalizer(table)

	rows, err := importer.ParseLotExcelFile(*lotPath, *sourceTable)
	if err != nil {
		log.Fatalf("failed to parse lot file: %v", err)
	}

	matcher := resolution.NewMatcher(db, normalizer, resolution.DefaultScorerConfig())
	applier := resolution.NewApplier(db, nil)
	engine := resolution.NewEngine(matcher, applier, resolution.EngineConfig{
		Workers: *workers,
		Retry:   resolution.DefaultRetryConfig(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := engine.ProcessLot(ctx, rows)
	if err != nil && summary == nil {
		log.Fatalf("failed to process lot: %v", err)
	}

	fmt.Println("\n--- Lot Resolution ---")
	fmt.Printf("Batch Run ID: %s\n", summary.BatchRunID)
	fmt.Printf("Source Table: %s\n", *sourceTable)
	fmt.Printf("Total Rows: %d\n", summary.Total)
	for outcome, count := range summary.ByOutcome {
		fmt.Printf(" - %s: %d\n", outcome, count)
	}
	fmt.Printf("Duration: %s\n", summary.Duration.Round(time.Millisecond))
	if err != nil {
		fmt.Printf("Stopped early: %v\n", err)
	}
}
