package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything a fleet process needs. Values load in layers:
// built-in defaults, then the YAML file, then environment variables.
type Config struct {
	// Store selects the shared object store.
	Store StoreConfig `yaml:"store"`

	// MineAPI configures the Mine API client.
	MineAPI MineAPIConfig `yaml:"mine_api"`

	// Miner configures the external miner subprocess.
	Miner MinerConfig `yaml:"miner"`

	// Worker configures the per-node mining loop.
	Worker WorkerConfig `yaml:"worker"`

	// Fleet configures controller-side operations.
	Fleet FleetConfig `yaml:"fleet"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// StoreConfig selects the S3 bucket holding the fleet's shared state.
type StoreConfig struct {
	// BucketPrefix combines with account and region into the bucket
	// name: <prefix>-<account>-<region>. Bucket overrides the derived
	// name when set.
	BucketPrefix string `yaml:"bucket_prefix"`
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
}

// MineAPIConfig configures the Mine API client.
type MineAPIConfig struct {
	BaseURL string `yaml:"base_url"`

	// RequestsPerSecond bounds outgoing requests; zero disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// DonationURL serves the current donation address; empty disables
	// donation interleaving.
	DonationURL string `yaml:"donation_url"`

	// TermsVersion is the TandC version to fetch for registration.
	TermsVersion string `yaml:"terms_version"`
}

// MinerConfig configures the external miner subprocess.
type MinerConfig struct {
	// BinaryPath locates the miner binary on the worker.
	BinaryPath string `yaml:"binary_path"`

	// SignerPath locates the signing tool used by register/donate.
	SignerPath string `yaml:"signer_path"`

	// MaxAttempts caps one mining pass; zero uses the binary default.
	MaxAttempts uint64 `yaml:"max_attempts"`
}

// WorkerConfig configures the per-node loop.
type WorkerConfig struct {
	// ID overrides the instance-derived worker ID (mostly for local runs).
	ID string `yaml:"id"`

	// Workers bounds concurrent miner subprocesses; zero means CPU count.
	Workers int `yaml:"workers"`

	// CachePath is the local allocation cache file.
	CachePath string `yaml:"cache_path"`

	// IndexPath is the local solved-pair index database.
	IndexPath string `yaml:"index_path"`

	// MetricsAddr serves /metrics and the health probes; empty disables.
	MetricsAddr string `yaml:"metrics_addr"`

	// HeartbeatInterval overrides the heartbeat cadence.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// FleetConfig configures controller-side operations.
type FleetConfig struct {
	// AddressesPerInstance is the slice size each worker reserves.
	AddressesPerInstance int `yaml:"addresses_per_instance"`

	// AddressFile lists the fleet's addresses, one per line, for seeding.
	AddressFile string `yaml:"address_file"`

	// LaunchTemplate names the EC2 launch template for worker instances.
	LaunchTemplate string `yaml:"launch_template"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			BucketPrefix: "nightfleet",
		},
		MineAPI: MineAPIConfig{
			RequestsPerSecond: 2,
			TermsVersion:      "1",
		},
		Miner: MinerConfig{
			BinaryPath: "/opt/nightfleet/miner",
			SignerPath: "/opt/nightfleet/signer",
		},
		Worker: WorkerConfig{
			CachePath:   "/var/lib/nightfleet/addresses.json",
			IndexPath:   "/var/lib/nightfleet/solved.db",
			MetricsAddr: ":9090",
		},
		Fleet: FleetConfig{
			AddressesPerInstance: 5,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (optional, "" skips), then .env, then process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env fills the environment without clobbering real env vars, so a
	// deployed unit file still wins over a leftover .env.
	_ = godotenv.Load()

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays NIGHTFLEET_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Store.Bucket, "NIGHTFLEET_BUCKET")
	setString(&c.Store.BucketPrefix, "NIGHTFLEET_BUCKET_PREFIX")
	setString(&c.Store.Region, "NIGHTFLEET_REGION")
	setString(&c.MineAPI.BaseURL, "NIGHTFLEET_MINE_API_URL")
	setFloat(&c.MineAPI.RequestsPerSecond, "NIGHTFLEET_MINE_API_RPS")
	setString(&c.MineAPI.DonationURL, "NIGHTFLEET_DONATION_URL")
	setString(&c.MineAPI.TermsVersion, "NIGHTFLEET_TERMS_VERSION")
	setString(&c.Miner.BinaryPath, "NIGHTFLEET_MINER_BINARY")
	setString(&c.Miner.SignerPath, "NIGHTFLEET_SIGNER_BINARY")
	setUint(&c.Miner.MaxAttempts, "NIGHTFLEET_MINER_MAX_ATTEMPTS")
	setString(&c.Worker.ID, "NIGHTFLEET_WORKER_ID")
	setInt(&c.Worker.Workers, "NIGHTFLEET_WORKERS")
	setString(&c.Worker.CachePath, "NIGHTFLEET_CACHE_PATH")
	setString(&c.Worker.IndexPath, "NIGHTFLEET_INDEX_PATH")
	setString(&c.Worker.MetricsAddr, "NIGHTFLEET_METRICS_ADDR")
	setInt(&c.Fleet.AddressesPerInstance, "NIGHTFLEET_ADDRESSES_PER_INSTANCE")
	setString(&c.Fleet.AddressFile, "NIGHTFLEET_ADDRESS_FILE")
	setString(&c.Fleet.LaunchTemplate, "NIGHTFLEET_LAUNCH_TEMPLATE")
	setString(&c.Log.Level, "NIGHTFLEET_LOG_LEVEL")
	setBool(&c.Log.JSON, "NIGHTFLEET_LOG_JSON")
}

// Validate rejects configurations no process can run with.
func (c *Config) Validate() error {
	if c.MineAPI.BaseURL == "" {
		return fmt.Errorf("mine_api.base_url is required")
	}
	if c.Store.Bucket == "" && c.Store.BucketPrefix == "" {
		return fmt.Errorf("store.bucket or store.bucket_prefix is required")
	}
	if c.Fleet.AddressesPerInstance <= 0 {
		return fmt.Errorf("fleet.addresses_per_instance must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
