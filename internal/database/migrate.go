package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/viper"
)

// RunMigrations applies pending schema migrations from the migrations
// directory against the given connection.
func RunMigrations(db *sql.DB) error {
	viper.SetDefault("database.migrations_path", "migrations")

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+viper.GetString("database.migrations_path"),
		viper.GetString("database.name"), driver)
	if err != nil {
		return fmt.Errorf("error initializing migrations: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("Database schema up to date")
			return nil
		}
		return fmt.Errorf("error applying migrations: %w", err)
	}

	log.Println("Database migrations applied")
	return nil
}
