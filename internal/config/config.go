package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Eigen    EigenConfig    `yaml:"eigen"`
	Database DatabaseConfig `yaml:"database"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

type EigenConfig struct {
	Components int  `yaml:"components"` // k, number of eigenfaces
	ImageSide  int  `yaml:"image_side"` // square image side; d = side*side
	Workers    int  `yaml:"workers"`    // concurrent loading solves (0 = GOMAXPROCS)
	UnitNorm   bool `yaml:"unit_norm"`  // scale eigenfaces to unit length
}

// Dim returns the face vector dimension derived from the image side.
func (c EigenConfig) Dim() int {
	return c.ImageSide * c.ImageSide
}

type DatabaseConfig struct {
	URL           string `yaml:"-"`              // PostgreSQL connection URL (takes precedence over the others)
	MariaDBDSN    string `yaml:"-"`              // MariaDB DSN, e.g. eigen:eigen@tcp(mariadb:3306)/eigenfaces
	SQLitePath    string `yaml:"sqlite_path"`    // local SQLite file used when no server database is set
	MaxOpenConns  int    `yaml:"max_open_conns"` // Maximum open connections
	MaxIdleConns  int    `yaml:"max_idle_conns"` // Maximum idle connections
	HNSWIndexPath string `yaml:"-"`              // Path to persist the gallery HNSW index (optional)
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"-"` // extra CORS origins; localhost is always allowed
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean.
// Returns the default value if the env var is unset or invalid.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envString returns the env var value or the default when it is unset or empty.
func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the embedded default configuration.
func Defaults() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Eigen: EigenConfig{
			Components: envInt("EIGENFACES_COMPONENTS", d.Eigen.Components),
			ImageSide:  envInt("EIGENFACES_IMAGE_SIDE", d.Eigen.ImageSide),
			Workers:    envInt("EIGENFACES_WORKERS", d.Eigen.Workers),
			UnitNorm:   envBool("EIGENFACES_UNIT_NORM", d.Eigen.UnitNorm),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MariaDBDSN:    os.Getenv("MARIADB_DSN"),
			SQLitePath:    envString("EIGENFACES_SQLITE_PATH", d.Database.SQLitePath),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", d.Web.Host),
			Port: envInt("WEB_PORT", d.Web.Port),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", d.Log.Level),
			Format: envString("LOG_FORMAT", d.Log.Format),
		},
	}
}
