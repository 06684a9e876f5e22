package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"inspectdesk.io/internal/migrate"
	"inspectdesk.io/internal/obs"
)

func main() {
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dsn := flagSet.String("dsn", os.Getenv("INSPECTDESK_PG_DSN"), "PostgreSQL DSN")
	timeout := flagSet.Duration("timeout", 30*time.Second, "overall timeout")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	log := obs.Component("migrate")
	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via --dsn or INSPECTDESK_PG_DSN")
	}
	if flagSet.NArg() == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	mgr := migrate.NewManager(db)

	cmd := flagSet.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("applied")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			log.Info().Str("migration", name).Msg("rolled back")
		}
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if errors.Is(err, migrate.ErrNothingApplied) {
		log.Info().Str("command", cmd).Msg("nothing to do")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}
