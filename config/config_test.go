package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Skryldev/useradmin/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Database.Driver != "sqlite3" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Fatalf("LogLevel()=%v, want info", cfg.LogLevel())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
app:
  name: Admin
database:
  driver: mysql
  host: db
  charset: utf8
  dbname: app
  username: root
  password: secret
  default_timeout: 3s
http:
  addr: ":9000"
log:
  level: debug
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.App.Name != "Admin" || cfg.App.Version != "dev" {
		t.Fatalf("unexpected app: %+v", cfg.App)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Password != "secret" || cfg.Database.DefaultTimeout != 3*time.Second {
		t.Fatalf("unexpected database: %+v", cfg.Database)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected http: %+v", cfg.HTTP)
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Fatalf("LogLevel()=%v, want debug", cfg.LogLevel())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeFile(t, "database:\n  driver: mysql\n  host: db\n")
	t.Setenv("USERADMIN_DATABASE_HOST", "override")
	t.Setenv("USERADMIN_DATABASE_PORT", "3307")
	t.Setenv("USERADMIN_HTTP_ADDR", ":7000")
	t.Setenv("USERADMIN_SESSION_SECURE", "true")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Database.Host != "override" || cfg.Database.Port != 3307 {
		t.Fatalf("env not applied: %+v", cfg.Database)
	}
	if cfg.HTTP.Addr != ":7000" || !cfg.Session.Secure {
		t.Fatalf("env not applied: %+v %+v", cfg.HTTP, cfg.Session)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("bad env int", func(t *testing.T) {
		t.Setenv("USERADMIN_DATABASE_PORT", "abc")
		if _, err := config.Load(""); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("bad yaml", func(t *testing.T) {
		if _, err := config.Load(writeFile(t, "http: [")); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("empty addr", func(t *testing.T) {
		if _, err := config.Load(writeFile(t, "http:\n  addr: \"\"\n")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestLoad_ExampleSettings(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "settings.example.yaml"))
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Charset != "utf8" || cfg.Session.MaxAge != 24*time.Hour {
		t.Fatalf("unexpected settings: %+v", cfg)
	}
}
