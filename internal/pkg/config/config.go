package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals Go duration strings ("30s", "5m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

type AggregationConfig struct {
	PerClusterLimit int64    `yaml:"perClusterLimit"`
	EntryTimeout    Duration `yaml:"entryTimeout"`
	MaxEvents       int      `yaml:"maxEvents"`
	CacheTTL        Duration `yaml:"cacheTTL"`
}

type AppConfig struct {
	ListenAddress string            `yaml:"listenAddress"`
	StateFile     string            `yaml:"stateFile"`
	Mongo         MongoConfig       `yaml:"mongo"`
	AWS           AWSConfig         `yaml:"aws"`
	Aggregation   AggregationConfig `yaml:"aggregation"`
}

// LoadConfig reads the YAML configuration file. A missing file yields
// the defaults.
func LoadConfig(filePath string) (*AppConfig, error) {
	config := defaults()

	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddress: ":8081",
		StateFile:     "data/fleetview.json",
		Mongo: MongoConfig{
			Database: "fleetview",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Aggregation: AggregationConfig{
			PerClusterLimit: 4,
			EntryTimeout:    Duration(10 * time.Second),
			MaxEvents:       10,
			CacheTTL:        Duration(30 * time.Second),
		},
	}
}
