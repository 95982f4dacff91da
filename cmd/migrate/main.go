// Package main provides a CLI tool for running the ingester's SQLite
// schema migrations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/baseingest/ingester/internal/config"
	"github.com/baseingest/ingester/internal/store"
)

func main() {
	var (
		action         = flag.String("action", "up", "Migration action: up, down, version")
		migrationsPath = flag.String("migrations", "migrations", "Path to migration files")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := run(cfg.DBPath, *migrationsPath, *action); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
}

func run(dbPath, migrationsPath, action string) error {
	switch action {
	case "up":
		log.Println("running migrations...")
		if err := store.RunMigrations(dbPath, migrationsPath); err != nil {
			return err
		}
		log.Println("migrations completed successfully")

	case "down":
		log.Println("rolling back migration...")
		if err := store.RollbackMigrations(dbPath, migrationsPath); err != nil {
			return err
		}
		log.Println("migration rolled back successfully")

	case "version":
		version, dirty, err := store.MigrationVersion(dbPath, migrationsPath)
		if err != nil {
			return err
		}
		log.Printf("current migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
