package main

import (
	"flag"
	"fmt"
	"os"

	"idle_mining/internal/db"
	"idle_mining/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL not set")
	}

	apply := flag.Bool("apply", false, "apply pending migrations")
	flag.Parse()

	if *apply {
		if err := db.InitializeSchema(dsn); err != nil {
			logger.Fatal("migration failed", "error", err)
		}
	}

	version, dirty, err := db.SchemaVersion(dsn)
	if err != nil {
		logger.Fatal("read schema version", "error", err)
	}
	fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
}
