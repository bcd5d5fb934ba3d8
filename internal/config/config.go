// Package config loads biodb settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"biodb/internal/artifact"
	"biodb/internal/blob"
	"biodb/internal/persistence/sqlstore"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DataDBDriver    string `mapstructure:"DATA_DB_DRIVER"`
	DataDBDSN       string `mapstructure:"DATA_DB_DSN"`
	CatalogDBDriver string `mapstructure:"CATALOG_DB_DRIVER"`
	CatalogDBDSN    string `mapstructure:"CATALOG_DB_DSN"`

	BlobDriver      string `mapstructure:"BLOB_DRIVER"`
	BlobFSRoot      string `mapstructure:"BLOB_FS_ROOT"`
	BlobS3Bucket    string `mapstructure:"BLOB_S3_BUCKET"`
	BlobS3Region    string `mapstructure:"BLOB_S3_REGION"`
	BlobS3Endpoint  string `mapstructure:"BLOB_S3_ENDPOINT"`
	BlobS3PathStyle bool   `mapstructure:"BLOB_S3_PATH_STYLE"`

	ArtifactPrefix        string   `mapstructure:"ARTIFACT_PREFIX"`
	ArtifactSchema        string   `mapstructure:"ARTIFACT_SCHEMA"`
	AutoAnnotate          bool     `mapstructure:"AUTO_ANNOTATE"`
	AutoFindPreviousVisit bool     `mapstructure:"AUTO_FIND_PREVIOUS_VISIT"`
	AgeObservable         string   `mapstructure:"AGE_OBSERVABLE"`
	ViewExcluded          []string `mapstructure:"VIEW_EXCLUDED_OBSERVABLES"`
	MetricsTextfile       string   `mapstructure:"METRICS_TEXTFILE"`
}

var keys = []string{
	"ENV", "LOG_LEVEL",
	"DATA_DB_DRIVER", "DATA_DB_DSN", "CATALOG_DB_DRIVER", "CATALOG_DB_DSN",
	"BLOB_DRIVER", "BLOB_FS_ROOT", "BLOB_S3_BUCKET", "BLOB_S3_REGION", "BLOB_S3_ENDPOINT", "BLOB_S3_PATH_STYLE",
	"ARTIFACT_PREFIX", "ARTIFACT_SCHEMA", "AUTO_ANNOTATE", "AUTO_FIND_PREVIOUS_VISIT", "AGE_OBSERVABLE",
	"VIEW_EXCLUDED_OBSERVABLES", "METRICS_TEXTFILE",
}

// Load reads ./.env when present and the process environment, which wins.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DB_DRIVER", "sqlite")
	v.SetDefault("DATA_DB_DSN", "biodb.db")
	v.SetDefault("BLOB_DRIVER", string(blob.DriverFilesystem))
	v.SetDefault("BLOB_FS_ROOT", "data")
	v.SetDefault("ARTIFACT_PREFIX", "array_data")
	v.SetDefault("ARTIFACT_SCHEMA", artifact.SchemaXY.Name)
	v.SetDefault("AUTO_ANNOTATE", true)
	v.SetDefault("AUTO_FIND_PREVIOUS_VISIT", false)
	v.SetDefault("AGE_OBSERVABLE", "age")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// The env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// the env decoder splits on commas without trimming
	cfg.ViewExcluded = splitList(strings.Join(cfg.ViewExcluded, ","))
	if cfg.CatalogDBDriver == "" {
		cfg.CatalogDBDriver = cfg.DataDBDriver
	}
	if cfg.CatalogDBDSN == "" {
		cfg.CatalogDBDSN = cfg.DataDBDSN
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDev reports whether human-readable console logging is wanted.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks driver names and the values each driver requires.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := sqlstore.DialectFor(c.DataDBDriver); err != nil {
		return fmt.Errorf("DATA_DB_DRIVER: %w", err)
	}
	if c.DataDBDSN == "" {
		return fmt.Errorf("DATA_DB_DSN is required")
	}
	if _, err := sqlstore.DialectFor(c.CatalogDBDriver); err != nil {
		return fmt.Errorf("CATALOG_DB_DRIVER: %w", err)
	}
	if c.CatalogDBDSN == "" {
		return fmt.Errorf("CATALOG_DB_DSN is required")
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem:
		if c.BlobFSRoot == "" {
			return fmt.Errorf("BLOB_FS_ROOT is required when BLOB_DRIVER is %q", c.BlobDriver)
		}
	case blob.DriverS3:
		if c.BlobS3Bucket == "" {
			return fmt.Errorf("BLOB_S3_BUCKET is required when BLOB_DRIVER is %q", c.BlobDriver)
		}
	case blob.DriverMemory:
	default:
		return fmt.Errorf("BLOB_DRIVER must be fs, s3 or memory, got %q", c.BlobDriver)
	}
	if _, err := artifact.ParseSchema(c.ArtifactSchema); err != nil {
		return fmt.Errorf("ARTIFACT_SCHEMA: %w", err)
	}
	return nil
}

// SeparateCatalog reports whether centers are replicated to a second database.
func (c *Config) SeparateCatalog() bool {
	return c.CatalogDBDriver != c.DataDBDriver || c.CatalogDBDSN != c.DataDBDSN
}

// Blob returns the blob backend options.
func (c *Config) Blob() blob.Options {
	return blob.Options{
		Driver:      c.BlobDriver,
		FSRoot:      c.BlobFSRoot,
		S3Bucket:    c.BlobS3Bucket,
		S3Region:    c.BlobS3Region,
		S3Endpoint:  c.BlobS3Endpoint,
		S3PathStyle: c.BlobS3PathStyle,
	}
}

// Schema returns the configured artifact schema variant.
func (c *Config) Schema() artifact.Schema {
	s, err := artifact.ParseSchema(c.ArtifactSchema)
	if err != nil {
		return artifact.SchemaXY
	}
	return s
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
