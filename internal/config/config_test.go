package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Eigen.Components != 6 {
		t.Errorf("expected default components 6, got %d", cfg.Eigen.Components)
	}
	if cfg.Eigen.ImageSide != 64 {
		t.Errorf("expected default image side 64, got %d", cfg.Eigen.ImageSide)
	}
	if cfg.Eigen.Dim() != 4096 {
		t.Errorf("expected default dim 4096, got %d", cfg.Eigen.Dim())
	}
	if cfg.Eigen.UnitNorm {
		t.Error("expected unnormalized eigenfaces by default")
	}
	if cfg.Database.SQLitePath != "eigenfaces.db" {
		t.Errorf("expected default sqlite path eigenfaces.db, got '%s'", cfg.Database.SQLitePath)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Log.Format != "console" {
		t.Errorf("expected default log format console, got '%s'", cfg.Log.Format)
	}
}

func TestLoad_DefaultComponents(t *testing.T) {
	t.Setenv("EIGENFACES_COMPONENTS", "")

	cfg := Load()

	if cfg.Eigen.Components != 6 {
		t.Errorf("expected default components 6, got %d", cfg.Eigen.Components)
	}
}

func TestLoad_CustomComponents(t *testing.T) {
	t.Setenv("EIGENFACES_COMPONENTS", "12")

	cfg := Load()

	if cfg.Eigen.Components != 12 {
		t.Errorf("expected components 12, got %d", cfg.Eigen.Components)
	}
}

func TestLoad_InvalidComponents(t *testing.T) {
	// Set invalid value (non-numeric)
	t.Setenv("EIGENFACES_COMPONENTS", "invalid")

	cfg := Load()

	// Should fall back to default
	if cfg.Eigen.Components != 6 {
		t.Errorf("expected default components 6 for invalid input, got %d", cfg.Eigen.Components)
	}
}

func TestLoad_NegativeComponents(t *testing.T) {
	t.Setenv("EIGENFACES_COMPONENTS", "-3")

	cfg := Load()

	if cfg.Eigen.Components != 6 {
		t.Errorf("expected default components 6 for negative input, got %d", cfg.Eigen.Components)
	}
}

func TestLoad_ImageSide(t *testing.T) {
	t.Setenv("EIGENFACES_IMAGE_SIDE", "32")

	cfg := Load()

	if cfg.Eigen.Dim() != 1024 {
		t.Errorf("expected dim 1024 for side 32, got %d", cfg.Eigen.Dim())
	}
}

func TestLoad_UnitNorm(t *testing.T) {
	tests := []struct {
		value    string
		expected bool
	}{
		{"true", true},
		{"1", true},
		{"false", false},
		{"garbage", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("EIGENFACES_UNIT_NORM", tt.value)
			cfg := Load()
			if cfg.Eigen.UnitNorm != tt.expected {
				t.Errorf("EIGENFACES_UNIT_NORM=%q: expected %v, got %v", tt.value, tt.expected, cfg.Eigen.UnitNorm)
			}
		})
	}
}

func TestLoad_Database(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("MARIADB_DSN", "eigen:eigen@tcp(localhost:3306)/eigenfaces")
	t.Setenv("EIGENFACES_SQLITE_PATH", "/tmp/runs.db")
	t.Setenv("HNSW_INDEX_PATH", "/tmp/gallery.hnsw")

	cfg := Load()

	if cfg.Database.URL != "postgres://u:p@localhost/db" {
		t.Errorf("unexpected database URL '%s'", cfg.Database.URL)
	}
	if cfg.Database.MariaDBDSN != "eigen:eigen@tcp(localhost:3306)/eigenfaces" {
		t.Errorf("unexpected MariaDB DSN '%s'", cfg.Database.MariaDBDSN)
	}
	if cfg.Database.SQLitePath != "/tmp/runs.db" {
		t.Errorf("unexpected sqlite path '%s'", cfg.Database.SQLitePath)
	}
	if cfg.Database.HNSWIndexPath != "/tmp/gallery.hnsw" {
		t.Errorf("unexpected HNSW index path '%s'", cfg.Database.HNSWIndexPath)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_Web(t *testing.T) {
	t.Setenv("WEB_HOST", "127.0.0.1")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	if cfg.Web.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got '%s'", cfg.Web.Host)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
}
