// Command migrate applies the unlockd schema to a Postgres database.
//
// The server also migrates on boot; this tool exists for running migrations
// ahead of a deploy and for inspecting the schema state of an environment.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mosaicworks/unlockd/internal/db"
	"github.com/rs/zerolog"
)

func main() {
	var (
		dbURL   = flag.String("db", "", "Postgres URL (defaults to DATABASE_URL)")
		current = flag.Bool("current", false, "Print the applied schema version and exit")
		list    = flag.Bool("list", false, "Print the embedded migrations and exit")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db url] [-current] [-list]")
		fmt.Fprintln(os.Stderr, "Applies pending unlockd schema migrations.")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *list {
		printMigrations(logger)
		return
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Fatal().Msg("no database URL: pass -db or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// A migration run holds one connection plus the advisory lock; no need
	// for the server's pool sizing.
	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 5
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot connect to database")
	}
	defer database.Close()

	if *current {
		version, err := database.CurrentVersion(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("cannot read schema version")
		}
		fmt.Printf("schema version %d\n", version)
		return
	}

	logger.Info().Msg("applying schema migrations")
	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("migrated, but could not read back schema version")
		return
	}
	logger.Info().Int("version", version).Msg("schema up to date")
}

func printMigrations(logger zerolog.Logger) {
	migrations, err := db.GetMigrations()
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot read embedded migrations")
	}
	if len(migrations) == 0 {
		fmt.Println("no embedded migrations")
		return
	}
	for _, m := range migrations {
		fmt.Printf("%3d  %s\n", m.Version, m.Name)
	}
}
