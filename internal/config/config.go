package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema    string   `mapstructure:"DB_SCHEMA"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	AuthSecret  string   `mapstructure:"AUTH_SECRET"`

	SourcesystemCD     string `mapstructure:"SOURCESYSTEM_CD"`
	UploadID           int    `mapstructure:"UPLOAD_ID"`
	ProjectID          string `mapstructure:"PROJECT_ID"`
	ProviderID         string `mapstructure:"PROVIDER_ID"`
	PatientNumFloor    int    `mapstructure:"PATIENT_NUM_FLOOR"`
	EncounterNumFloor  int    `mapstructure:"ENCOUNTER_NUM_FLOOR"`
	PatientIDESource   string `mapstructure:"PATIENT_IDE_SOURCE"`
	EncounterIDESource string `mapstructure:"ENCOUNTER_IDE_SOURCE"`
	IdentitySource     string `mapstructure:"IDENTITY_SOURCE"`
	BaseIRI            string `mapstructure:"BASE_IRI"`

	OntologyRoot     string `mapstructure:"ONTOLOGY_ROOT"`
	MetadataFile     string `mapstructure:"METADATA_FILE"`
	NamespaceFile    string `mapstructure:"NAMESPACE_FILE"`
	ModifierMaxDepth int    `mapstructure:"MODIFIER_MAX_DEPTH"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA",
	"CORS_ORIGINS", "AUTH_SECRET",
	"SOURCESYSTEM_CD", "UPLOAD_ID", "PROJECT_ID", "PROVIDER_ID",
	"PATIENT_NUM_FLOOR", "ENCOUNTER_NUM_FLOOR", "PATIENT_IDE_SOURCE", "ENCOUNTER_IDE_SOURCE",
	"IDENTITY_SOURCE", "BASE_IRI",
	"ONTOLOGY_ROOT", "METADATA_FILE", "NAMESPACE_FILE", "MODIFIER_MAX_DEPTH",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_SCHEMA", "i2b2demodata")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SOURCESYSTEM_CD", "FHIR")
	v.SetDefault("UPLOAD_ID", 0)
	v.SetDefault("PROJECT_ID", "fhir")
	v.SetDefault("PROVIDER_ID", "@")
	v.SetDefault("PATIENT_NUM_FLOOR", 100000)
	v.SetDefault("ENCOUNTER_NUM_FLOOR", 500000)
	v.SetDefault("PATIENT_IDE_SOURCE", "FHIR")
	v.SetDefault("ENCOUNTER_IDE_SOURCE", "FHIR")
	v.SetDefault("IDENTITY_SOURCE", "HIVE")
	v.SetDefault("ONTOLOGY_ROOT", "FHIR")
	v.SetDefault("MODIFIER_MAX_DEPTH", 0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequireDatabase is called by commands that open a pool.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a load.
func (c *Config) Validate() error {
	if c.PatientNumFloor < 1 {
		return fmt.Errorf("PATIENT_NUM_FLOOR must be positive, got %d", c.PatientNumFloor)
	}
	if c.EncounterNumFloor < 1 {
		return fmt.Errorf("ENCOUNTER_NUM_FLOOR must be positive, got %d", c.EncounterNumFloor)
	}
	if c.PatientIDESource == "" || c.EncounterIDESource == "" || c.IdentitySource == "" {
		return fmt.Errorf("PATIENT_IDE_SOURCE, ENCOUNTER_IDE_SOURCE and IDENTITY_SOURCE must be set")
	}
	if c.OntologyRoot == "" || strings.Contains(c.OntologyRoot, `\`) {
		return fmt.Errorf("ONTOLOGY_ROOT must be a single path segment, got %q", c.OntologyRoot)
	}
	if c.ModifierMaxDepth < 0 {
		return fmt.Errorf("MODIFIER_MAX_DEPTH must not be negative")
	}
	if c.IsProduction() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required in production")
	}
	return nil
}
