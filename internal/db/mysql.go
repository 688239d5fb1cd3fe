package db

import (
	"embed"
	"errors"
	"log"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed migrations/*.sql
var fs embed.FS

// MustConnect opens the pool. The DSN needs parseTime=true for report timestamps.
func MustConnect(dsn string) *sqlx.DB {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return db
}

func Migrate(db *sqlx.DB) error {
	d, err := mysql.WithInstance(db.DB, &mysql.Config{})
	if err != nil {
		return err
	}
	s, err := iofs.New(fs, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", s, "mysql", d)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func MustMigrate(db *sqlx.DB) {
	if err := Migrate(db); err != nil {
		log.Fatal(err)
	}
}
