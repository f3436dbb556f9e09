package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Input sources.
const (
	SourceFile    = "file"
	SourcePostGIS = "postgis"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Input     InputConfig
	Exclusion ExclusionConfig
	Output    OutputConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// InputConfig says where parcels, buildings and the code tables come from.
type InputConfig struct {
	Source          string
	ParcelsPath     string
	BuildingsPath   string
	BoundaryPath    string
	ZoningTablePath string
	UseTablePath    string
	ParcelIDField   string
	ZoningField     string
	FacilityIDField string
}

// ExclusionConfig holds the ordinance parameters and run policies.
type ExclusionConfig struct {
	DwellingUses       []string
	ConsistencyPolicy  string
	Radius             float64
	MitreLimit         float64
	SliverArea         float64
	AreaTolerance      float64
	Workers            int
	MaxWarnings        int
	RequireOwnDwelling bool
	MultiOccupancy     bool
	ExcludeFootprints  bool
}

// OutputConfig controls which artifacts a run writes.
type OutputConfig struct {
	Dir            string
	GeoJSON        bool
	Workbook       bool
	Summary        bool
	SaveToDatabase bool
}

// Load reads configuration from environment variables and, when path is not
// empty, from a config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Bind environment variables
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("PORT"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseList(v.GetString("CORS_ORIGINS")),
		},
		Input: InputConfig{
			Source:          strings.ToLower(v.GetString("INPUT_SOURCE")),
			ParcelsPath:     v.GetString("INPUT_PARCELS"),
			BuildingsPath:   v.GetString("INPUT_BUILDINGS"),
			BoundaryPath:    v.GetString("INPUT_BOUNDARY"),
			ZoningTablePath: v.GetString("INPUT_ZONING_TABLE"),
			UseTablePath:    v.GetString("INPUT_USE_TABLE"),
			ParcelIDField:   v.GetString("INPUT_PARCEL_ID_FIELD"),
			ZoningField:     v.GetString("INPUT_ZONING_FIELD"),
			FacilityIDField: v.GetString("INPUT_FACILITY_ID_FIELD"),
		},
		Exclusion: ExclusionConfig{
			Radius:             v.GetFloat64("EXCLUSION_RADIUS"),
			MitreLimit:         v.GetFloat64("EXCLUSION_MITRE_LIMIT"),
			Workers:            v.GetInt("EXCLUSION_WORKERS"),
			SliverArea:         v.GetFloat64("EXCLUSION_SLIVER_AREA"),
			AreaTolerance:      v.GetFloat64("EXCLUSION_AREA_TOLERANCE"),
			ConsistencyPolicy:  strings.ToLower(v.GetString("EXCLUSION_CONSISTENCY_POLICY")),
			DwellingUses:       parseList(v.GetString("EXCLUSION_DWELLING_USES")),
			MaxWarnings:        v.GetInt("EXCLUSION_MAX_WARNINGS"),
			RequireOwnDwelling: v.GetBool("EXCLUSION_REQUIRE_OWN_DWELLING"),
			MultiOccupancy:     v.GetBool("EXCLUSION_MULTI_OCCUPANCY"),
			ExcludeFootprints:  v.GetBool("EXCLUSION_EXCLUDE_FOOTPRINTS"),
		},
		Output: OutputConfig{
			Dir:            v.GetString("OUTPUT_DIR"),
			GeoJSON:        v.GetBool("OUTPUT_GEOJSON"),
			Workbook:       v.GetBool("OUTPUT_WORKBOOK"),
			Summary:        v.GetBool("OUTPUT_SUMMARY"),
			SaveToDatabase: v.GetBool("OUTPUT_SAVE_TO_DATABASE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "coopzone")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")

	v.SetDefault("INPUT_SOURCE", SourceFile)
	v.SetDefault("INPUT_PARCEL_ID_FIELD", "OBJECTID")
	v.SetDefault("INPUT_ZONING_FIELD", "ZONING")
	v.SetDefault("INPUT_FACILITY_ID_FIELD", "FACILITYID")

	v.SetDefault("EXCLUSION_RADIUS", 200.0)
	v.SetDefault("EXCLUSION_MITRE_LIMIT", 5.0)
	v.SetDefault("EXCLUSION_WORKERS", runtime.NumCPU())
	v.SetDefault("EXCLUSION_SLIVER_AREA", 0.0)
	v.SetDefault("EXCLUSION_AREA_TOLERANCE", 1e-6)
	v.SetDefault("EXCLUSION_CONSISTENCY_POLICY", "abort")
	v.SetDefault("EXCLUSION_DWELLING_USES", "Household")
	v.SetDefault("EXCLUSION_MAX_WARNINGS", 500)
	v.SetDefault("EXCLUSION_REQUIRE_OWN_DWELLING", false)
	v.SetDefault("EXCLUSION_MULTI_OCCUPANCY", false)
	v.SetDefault("EXCLUSION_EXCLUDE_FOOTPRINTS", false)

	v.SetDefault("OUTPUT_DIR", "out")
	v.SetDefault("OUTPUT_GEOJSON", true)
	v.SetDefault("OUTPUT_WORKBOOK", true)
	v.SetDefault("OUTPUT_SUMMARY", true)
	v.SetDefault("OUTPUT_SAVE_TO_DATABASE", false)
}

// UsesDatabase reports whether any part of a run needs PostgreSQL.
func (c *Config) UsesDatabase() bool {
	return c.Input.Source == SourcePostGIS || c.Output.SaveToDatabase
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	// Validate input config
	switch c.Input.Source {
	case SourceFile:
		if c.Input.ParcelsPath == "" {
			return fmt.Errorf("INPUT_PARCELS is required for the file source")
		}
		if c.Input.BuildingsPath == "" {
			return fmt.Errorf("INPUT_BUILDINGS is required for the file source")
		}
		if c.Input.ZoningTablePath == "" {
			return fmt.Errorf("INPUT_ZONING_TABLE is required for the file source")
		}
		if c.Input.UseTablePath == "" {
			return fmt.Errorf("INPUT_USE_TABLE is required for the file source")
		}
	case SourcePostGIS:
	default:
		return fmt.Errorf("INPUT_SOURCE must be %q or %q, got %q", SourceFile, SourcePostGIS, c.Input.Source)
	}
	if c.Input.ParcelIDField == "" || c.Input.ZoningField == "" || c.Input.FacilityIDField == "" {
		return fmt.Errorf("INPUT_PARCEL_ID_FIELD, INPUT_ZONING_FIELD and INPUT_FACILITY_ID_FIELD must not be empty")
	}

	// Validate exclusion config
	if c.Exclusion.Radius <= 0 {
		return fmt.Errorf("EXCLUSION_RADIUS must be positive")
	}
	if c.Exclusion.MitreLimit < 1 {
		return fmt.Errorf("EXCLUSION_MITRE_LIMIT must be at least 1")
	}
	if c.Exclusion.Workers < 1 {
		return fmt.Errorf("EXCLUSION_WORKERS must be at least 1")
	}
	if c.Exclusion.SliverArea < 0 {
		return fmt.Errorf("EXCLUSION_SLIVER_AREA must be non-negative")
	}
	if c.Exclusion.AreaTolerance < 0 {
		return fmt.Errorf("EXCLUSION_AREA_TOLERANCE must be non-negative")
	}
	if c.Exclusion.ConsistencyPolicy != "abort" && c.Exclusion.ConsistencyPolicy != "filter" {
		return fmt.Errorf("EXCLUSION_CONSISTENCY_POLICY must be abort or filter, got %q", c.Exclusion.ConsistencyPolicy)
	}
	if len(c.Exclusion.DwellingUses) == 0 {
		return fmt.Errorf("EXCLUSION_DWELLING_USES is required")
	}
	if c.Exclusion.MaxWarnings < 0 {
		return fmt.Errorf("EXCLUSION_MAX_WARNINGS must be non-negative")
	}

	// Validate output config
	if (c.Output.GeoJSON || c.Output.Workbook || c.Output.Summary) && c.Output.Dir == "" {
		return fmt.Errorf("OUTPUT_DIR is required when file outputs are enabled")
	}

	// Validate database config
	if c.UsesDatabase() {
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Port == "" {
			return fmt.Errorf("DB_PORT is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	return nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
