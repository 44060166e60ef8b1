package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"finsync/internal/auth"
	"finsync/internal/config"

	"github.com/joho/godotenv"
)

// Mints a service token for calling the sync API, e.g. from a cron job
// or an operator shell.
func main() {
	subject := flag.String("subject", "operator", "token subject, recorded as triggered_by on sync runs")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("skipping .env: %v", err)
	}
	cfg := config.Load()

	token, err := auth.NewToken(cfg.JWTSecret, *subject, *ttl)
	if err != nil {
		log.Fatalf("failed to mint token: %v", err)
	}
	fmt.Println(token)
}
