package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"warden.dev/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = flag.String("dsn", os.Getenv("WARDEN_PG_DSN"), "PostgreSQL DSN")
		table   = flag.String("table", "", "Migrations bookkeeping table")
		verbose = flag.Bool("v", false, "Log every migration step")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall deadline")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or WARDEN_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	mgr, err := migrate.NewManager(db, migrate.WithMigrationsTable(*table), migrate.WithVerbose(*verbose))
	if err != nil {
		_ = db.Close()
		log.Fatalf("init: %v", err)
	}
	defer func() { _ = mgr.Close() }()

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "seed":
		err = mgr.Seed(ctx)
	case "status":
		var st migrate.Status
		st, err = mgr.Status(ctx)
		if err == nil {
			_ = json.NewEncoder(os.Stdout).Encode(st)
		}
	default:
		log.Printf("unknown command %q", flag.Arg(0))
		_ = mgr.Close()
		os.Exit(2)
	}
	if err != nil {
		_ = mgr.Close()
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
