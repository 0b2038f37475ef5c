package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"examprep/internal/app"
	"examprep/internal/db"
)

func main() {
	cfg := app.LoadConfig()

	ctx := context.Background()
	dbConn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn); err != nil {
		log.Printf("migration error: %v", err)
		os.Exit(1)
	}

	r := app.NewRouter(cfg, dbConn)

	log.Printf("examprep web listening on %s", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, r); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
