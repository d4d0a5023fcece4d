package main

import (
	"log"
	"os"

	"github.com/dwkim/go-shop-store/internal/config"
	"github.com/dwkim/go-shop-store/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/migrate.go [up|down]")
	}

	direction := os.Args[1]
	if direction != "up" && direction != "down" {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	if direction == "up" {
		err = database.Migrate(db, cfg.Database.MigrationsDir)
	} else {
		err = database.MigrateDown(db, cfg.Database.MigrationsDir)
	}
	if err != nil {
		log.Fatalf("Migrate %s: %v", direction, err)
	}

	log.Printf("Migrations %s complete", direction)
}
