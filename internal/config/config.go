// Package config loads chargewatch settings from defaults, an optional YAML
// file and CHARGEWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the decoded configuration.
type Settings struct {
	Logging   LoggingSettings  `mapstructure:"logging"`
	Artifacts ArtifactSettings `mapstructure:"artifacts"`
	AWS       AWSSettings      `mapstructure:"aws"`
	Output    OutputSettings   `mapstructure:"output"`
	Pipeline  PipelineSettings `mapstructure:"pipeline"`
	Ledger    LedgerSettings   `mapstructure:"ledger"`
	Metrics   MetricsSettings  `mapstructure:"metrics"`
}

type LoggingSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ArtifactSettings locates the trained model. Each value is a local path or
// an s3://bucket/key URI.
type ArtifactSettings struct {
	Features string `mapstructure:"features"`
	Scaler   string `mapstructure:"scaler"`
	Model    string `mapstructure:"model"`
}

type AWSSettings struct {
	Region string `mapstructure:"region"`
}

type OutputSettings struct {
	// Suffix is inserted before the .csv extension of the output file.
	Suffix             string `mapstructure:"suffix"`
	PreserveInputOrder bool   `mapstructure:"preserve_input_order"`
}

type PipelineSettings struct {
	// Workers bounds concurrent group computations; 0 means GOMAXPROCS.
	Workers int `mapstructure:"workers"`
}

// LedgerSettings enables the SQLite run ledger when Path is non-empty.
type LedgerSettings struct {
	Path string `mapstructure:"path"`
}

// MetricsSettings enables the node_exporter textfile when Textfile is set.
type MetricsSettings struct {
	Textfile string `mapstructure:"textfile"`
}

// Load reads configuration from file and environment variables. A missing
// config file is fine when no explicit path was given.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("artifacts.features", "features.json")
	v.SetDefault("artifacts.scaler", "scaler.json")
	v.SetDefault("artifacts.model", "model.json")
	v.SetDefault("aws.region", "eu-west-1")
	v.SetDefault("output.suffix", "_output")
	v.SetDefault("output.preserve_input_order", false)
	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("ledger.path", "")
	v.SetDefault("metrics.textfile", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("chargewatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// CHARGEWATCH_ARTIFACTS_MODEL=s3://bucket/model.json
	v.SetEnvPrefix("CHARGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v into Settings and checks the values that would
// otherwise fail late.
func Decode(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	if s.Pipeline.Workers < 0 {
		return Settings{}, fmt.Errorf("pipeline.workers must not be negative, got %d", s.Pipeline.Workers)
	}
	if s.Artifacts.Features == "" || s.Artifacts.Scaler == "" || s.Artifacts.Model == "" {
		return Settings{}, errors.New("artifacts.features, artifacts.scaler and artifacts.model are required")
	}
	return s, nil
}
