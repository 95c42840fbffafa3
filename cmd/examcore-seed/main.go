package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/platinummonkey/examcore/pkg/auth"
	"github.com/platinummonkey/examcore/pkg/config"
	"github.com/platinummonkey/examcore/pkg/observability"
	"github.com/platinummonkey/examcore/pkg/seed"
	"github.com/platinummonkey/examcore/pkg/storage/postgres"
)

var (
	seedFile      = flag.String("file", "cmd/examcore-seed/seed.yaml", "Path to the seed document")
	skipMigrate   = flag.Bool("skip-migrations", false, "Do not apply schema migrations before seeding")
	adminPassword = flag.String("admin-password", os.Getenv("EXAMCORE_SEED_ADMIN_PASSWORD"), "Overrides the admin password from the seed file")
	timeout       = flag.Duration("timeout", time.Minute, "Overall timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	f, err := os.Open(*seedFile)
	if err != nil {
		log.Fatalf("Failed to open seed file: %v", err)
	}
	doc, err := seed.Load(f)
	f.Close()
	if err != nil {
		log.Fatalf("Invalid seed file: %v", err)
	}
	if doc.Admin != nil && *adminPassword != "" {
		doc.Admin.Password = *adminPassword
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := postgres.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if !*skipMigrate {
		if err := postgres.RunMigrations(ctx, db, logger); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	if _, err := seed.Apply(ctx, db, doc, auth.NewBcryptHasher(0), logger); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}
}
