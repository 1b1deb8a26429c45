package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"library-lending/library"
)

// Reads a catalog CSV with rows "title,author,copies" (an optional header
// row starting with "title" is skipped) and adds every row to the library.
func main() {
	cfg := library.LoadConfig()
	dbPath := flag.String("db", cfg.DBPath, "path to the SQLite database")
	file := flag.String("file", "catalog.csv", "CSV file with title,author,copies rows")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(cfg.LogLevel)

	db, err := library.NewDatabaseWithTimeout(*dbPath, cfg.BusyTimeout, library.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("opening database")
	}
	defer db.Close()
	manager := library.NewLibraryManager(db)

	f, err := os.Open(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("opening catalog")
	}
	defer f.Close()

	imported, failed, err := importCatalog(context.Background(), manager, f)
	if err != nil {
		log.Fatal().Err(err).Msg("import aborted")
	}
	log.Info().Int("imported", imported).Int("failed", failed).Msg("import complete")

	books, err := manager.ListBooks(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("retrieving books")
		return
	}
	fmt.Printf("%-5s %-30s %-25s %s\n", "ID", "Title", "Author", "Available")
	fmt.Println(strings.Repeat("-", 75))
	for _, b := range books {
		fmt.Println(library.PrettyBook(b))
	}
}

// importCatalog adds each CSV row as a book. Rows with bad input are logged
// and counted; storage failures abort the import.
func importCatalog(ctx context.Context, manager *library.LibraryManager, r io.Reader) (imported, failed int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return imported, failed, nil
		}
		if err != nil {
			return imported, failed, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "title") {
			continue
		}
		if len(rec) != 3 {
			log.Warn().Int("line", line).Int("fields", len(rec)).Msg("skipping row: want title,author,copies")
			failed++
			continue
		}
		copies, convErr := strconv.Atoi(strings.TrimSpace(rec[2]))
		if convErr != nil {
			log.Warn().Int("line", line).Str("copies", rec[2]).Msg("skipping row: copies is not a number")
			failed++
			continue
		}

		b, addErr := manager.AddBook(ctx, rec[0], rec[1], copies)
		if library.IsValidationError(addErr) {
			log.Warn().Int("line", line).Err(addErr).Msg("skipping row")
			failed++
			continue
		}
		if addErr != nil {
			return imported, failed, addErr
		}
		log.Debug().Int64("id", b.ID).Str("title", b.Title).Msg("imported")
		imported++
	}
}
