//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// bridge tables in dependency order
var tables = []string{"bridge_transactions", "liquidity_pools"}

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	if os.Getenv("ENVIRONMENT") == "production" {
		log.Fatal("refusing to clear a production database")
	}

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			log.Printf("Warning: Failed to truncate %s: %v", table, err)
			continue
		}
		fmt.Printf("Cleared %s\n", table)
	}
	fmt.Println("Bridge data cleared; pools reseed from config on next start")
}
