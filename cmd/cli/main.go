package main

import (
	"os"
	"strings"

	"github.com/nimasrn/credits-gateway/internal/config"
	"github.com/nimasrn/credits-gateway/pkg/logger"
	"github.com/nimasrn/credits-gateway/pkg/pg"
)

// usage: cli [migrate|status] --env=.env --dir=./migrations
func main() {
	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pgConf := config.Get().PostgresWrite()
	dir := getMigrationPath()

	switch command() {
	case "status":
		err = pg.MigrationStatus(pgConf, dir)
	case "migrate":
		err = pg.Migrate(pgConf, dir)
	default:
		logger.Error("unknown command, expected migrate or status", "command", command())
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration: command failed", "command", command(), "error", err)
		os.Exit(1)
	}
}

// command is the first argument that is not a --flag. Defaults to migrate.
func command() string {
	for _, v := range os.Args[1:] {
		if !strings.HasPrefix(v, "--") {
			return v
		}
	}
	return "migrate"
}

func getEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	if _, err := os.Open(".env"); err != nil {
		logger.Warn("no .env file, reading the environment only")
		return ""
	}
	return ".env"
}

func getMigrationPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--dir=") {
			s := strings.Split(v, "=")
			if _, err := os.Stat(s[1]); err != nil {
				logger.Error("failed to open the migrations dir, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return "./migrations"
}
