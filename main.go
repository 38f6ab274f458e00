package main

import (
	"github.com/joho/godotenv"

	"funding-rate-alerts/internal/cli"
)

func main() {
	// Credentials may live in a local .env during development.
	_ = godotenv.Load()
	cli.Execute()
}
