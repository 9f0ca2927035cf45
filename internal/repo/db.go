package repo

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Open connects to the database behind driver ("pgx" or "sqlite3") and
// verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("invalid DATABASE_URL")
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	switch driver {
	case "sqlite3":
		// one writer; transactions would otherwise hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(30)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unexpected error while pinging database: %w", err)
	}

	slog.Info("database connection established", "driver", driver)
	return db, nil
}

// Migrate creates the router tables if they do not exist yet.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	name := "schema/postgres.sql"
	if db.DriverName() == "sqlite3" {
		name = "schema/sqlite.sql"
	}

	ddl, err := schemaFS.ReadFile(name)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply %s: %w", name, err)
	}
	return nil
}
