// Package config exposes typed configuration read through viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/bankfeeds/backend/internal/bucket"
)

// ImportConfig is the ingestion-wide configuration surface: how pulls
// are bucketed, which timezone decides bucket membership, and whether
// empty buckets still produce statements.
type ImportConfig struct {
	Granularity       bucket.Granularity
	ReportingTimezone *time.Location
	AllowEmpty        bool
	LookbackDays      int
	PollInterval      time.Duration
}

// LoadImportConfig reads the import configuration with defaults.
func LoadImportConfig() (*ImportConfig, error) {
	viper.SetDefault("import.granularity", "daily")
	viper.SetDefault("import.reporting_timezone", "UTC")
	viper.SetDefault("import.allow_empty_statements", false)
	viper.SetDefault("import.lookback_days", 15)
	viper.SetDefault("import.poll_interval", 8*time.Hour)

	granularity, err := bucket.ParseGranularity(viper.GetString("import.granularity"))
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(viper.GetString("import.reporting_timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid reporting timezone: %w", err)
	}

	return &ImportConfig{
		Granularity:       granularity,
		ReportingTimezone: loc,
		AllowEmpty:        viper.GetBool("import.allow_empty_statements"),
		LookbackDays:      viper.GetInt("import.lookback_days"),
		PollInterval:      viper.GetDuration("import.poll_interval"),
	}, nil
}
