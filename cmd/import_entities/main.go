package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"identityserver/database"
	"identityserver/importer"
	"identityserver/resolution"
	"identityserver/server"
)

func main() {
	dbPath := flag.String("db", "registry.db", "Path to the registry database")
	filePath := flag.String("file", "", "Path to the curated entity spreadsheet (xlsx)")
	tablePath := flag.String("abbreviations", "", "Optional abbreviation table JSON (built-in table by default)")
	logLevel := flag.String("log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	flag.Parse()

	if *filePath == "" {
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

	records, err := importer.ParseEntityExcelFile(*filePath)
	if err != nil {
		log.Fatalf("failed to parse entity file: %v", err)
	}

	ei := importer.NewEntityImporter(db, resolution.NewEntityNormalizer(table))
	result, err := ei.ImportEntities(records)
	if err != nil {
		log.Fatalf("failed to import entities: %v", err)
	}

	fmt.Println("\n--- Registry Import ---")
	fmt.Printf("Total Records: %d\n", result.Total)
	fmt.Printf("Created: %d\n", result.Created)
	fmt.Printf("Skipped: %d\n", result.Skipped)
	fmt.Printf("Errors: %d\n", len(result.Errors))
	for _, e := range result.Errors {
		fmt.Printf(" - %s\n", e)
	}
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
}
