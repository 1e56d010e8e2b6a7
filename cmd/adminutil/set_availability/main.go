package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/config"
	"github.com/meanishn/platform/internal/db"
)

// set_availability marks a provider as available or unavailable for new offers.
// Usage:
//
//	go run ./cmd/adminutil/set_availability -provider <id> -available=false
func main() {
	provider := flag.String("provider", "", "ID of the provider to update")
	available := flag.Bool("available", true, "whether the provider receives new offers")
	dsn := flag.String("dsn", "", "Postgres DSN (default: built from DB_* variables)")
	flag.Parse()

	if *provider == "" {
		log.Fatalf("usage: go run ./cmd/adminutil/set_availability -provider <id> [-available=false]")
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	if *dsn == "" {
		*dsn = db.DSNFromEnv()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, *dsn, zap.NewNop())
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	if err := db.NewDirectory(pool).SetAvailability(ctx, *provider, *available); err != nil {
		log.Fatalf("failed to update provider %s: %v", *provider, err)
	}
	fmt.Printf("Provider %s available=%t.\n", *provider, *available)
}
