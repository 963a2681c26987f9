package main

import (
	"fmt"
	"strings"

	"github.com/Skryldev/useradmin/db"
	"github.com/Skryldev/useradmin/required"
)

// databaseURL turns the connection settings into a golang-migrate URL. The
// driver's own DSN is reused; only the scheme prefix differs.
func databaseURL(cfg db.Config) (string, error) {
	d, err := db.LookupDriver(cfg.Driver)
	if err != nil {
		return "", err
	}
	if missing := missingParams(d, cfg); len(missing) > 0 {
		return "", db.Misconfigured("required parameter(s) missing for %s: %s", cfg.Driver, strings.Join(missing, ", "))
	}

	switch cfg.Driver {
	case "mysql":
		dsn, err := d.DSN(cfg)
		if err != nil {
			return "", err
		}
		return "mysql://" + dsn, nil
	case "postgres", "pgx":
		// The pgx adapter already renders a postgres:// URL.
		dsn, err := db.PgxDriver{}.DSN(cfg)
		if err != nil {
			return "", err
		}
		if cfg.Driver == "pgx" {
			return "pgx5" + strings.TrimPrefix(dsn, "postgres"), nil
		}
		return dsn, nil
	case "sqlite3", "sqlite":
		dsn, err := d.DSN(cfg)
		if err != nil {
			return "", err
		}
		return cfg.Driver + "://" + dsn, nil
	default:
		return "", db.Misconfigured("no migration URL for driver %q", cfg.Driver)
	}
}

// dialectDir names the migrations subdirectory holding SQL for driver.
func dialectDir(driver string) (string, error) {
	switch driver {
	case "mysql":
		return "mysql", nil
	case "postgres", "pgx":
		return "postgres", nil
	case "sqlite3", "sqlite":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("migrate: no migrations for driver %q", driver)
	}
}

func missingParams(d db.Driver, cfg db.Config) []string {
	have := map[string]string{
		"driver":   cfg.Driver,
		"host":     cfg.Host,
		"charset":  cfg.Charset,
		"dbname":   cfg.DBName,
		"username": cfg.Username,
		"password": cfg.Password,
	}
	for k, v := range have {
		if v == "" {
			delete(have, k)
		}
	}
	return required.Missing(d.RequiredParams(), have)
}
