package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/kangjhooe/xclass-sub019/internal/config"
	"github.com/kangjhooe/xclass-sub019/internal/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	dir := flag.String("dir", "migrations", "Directory containing migration SQL files")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLoggerWithLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	files, err := migrationFiles(*dir)
	if err != nil {
		logger.Fatalw("Failed to read migrations directory", "error", err, "dir", *dir)
	}
	if len(files) == 0 {
		logger.Fatalw("No migration files found", "dir", *dir)
	}

	if *dryRun {
		for _, file := range files {
			sqlBytes, err := os.ReadFile(file)
			if err != nil {
				logger.Fatalw("Failed to read migration", "error", err, "file", file)
			}
			fmt.Printf("-- %s\n%s\n", filepath.Base(file), string(sqlBytes))
		}
		return
	}

	dsn := cfg.Postgres.GetDSN()
	logger.Infow("Connecting to database", "host", cfg.Postgres.Host)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logger.Fatalw("Failed to connect to postgres", "error", err)
	}
	defer db.Close()

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			logger.Fatalw("Failed to read migration", "error", err, "file", file)
		}

		logger.Infow("Applying migration", "file", filepath.Base(file))
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			logger.Fatalw("Failed to apply migration", "error", err, "file", file)
		}
	}

	logger.Info("Migration completed successfully")
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}
