package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every application variable, e.g. CARTOGRAPH_WORKERS.
const EnvPrefix = "CARTOGRAPH"

// Configuration keys.
const (
	KeyEnv          = "env"
	KeyHealthPort   = "health_port"
	KeyProviderType = "provider_type"
	KeyProviderKey  = "provider_key"
	KeyContactEmail = "contact_email"
	KeyUserAgent    = "user_agent"
	KeyWorkers      = "workers"
	KeyBatchSize    = "batch_size"
	KeyMinDelay     = "min_delay"
	KeyMaxTries     = "max_tries"
	KeyAuditFile    = "audit_file"
	KeyTable        = "table"
)

// Errors reported by Load.
var (
	ErrPort      = errors.New("failed to parse port for monitoring server from configuration")
	ErrWorkers   = errors.New("failed to parse workers from configuration, must be a positive integer")
	ErrBatchSize = errors.New("failed to parse batch size from configuration, must be a positive integer")
	ErrMaxTries  = errors.New("failed to parse max tries from configuration, must be a positive integer")
	ErrMinDelay  = errors.New("failed to parse min delay from configuration")
)

// Config holds the configuration settings for a backfill run.
//
// Fields:
// - Env: The current environment (local, development, production).
// - Port: The port for the monitoring server, 0 disables it.
// - ProviderType: The geocoding provider to use (nominatim, google, visicom).
// - APIKey: The API key for providers that need one.
// - ContactEmail: Sent with every Nominatim request as required by its usage policy.
// - UserAgent: Identifies the application to the geocoding service.
// - Workers: The number of concurrent workers per batch.
// - BatchSize: The number of records fetched per batch.
// - MinDelay: The minimum spacing between any two outbound requests.
// - MaxTries: Attempts per address before giving up on transient failures.
// - AuditFile: CSV file receiving addresses that were not updated.
// - Table: The table holding address records.
// - Database: Configuration settings for the PostgreSQL database.
type Config struct {
	Env          string         `mapstructure:"env"`
	Port         int            `mapstructure:"health_port"`
	ProviderType string         `mapstructure:"provider_type"`
	APIKey       string         `mapstructure:"provider_key"`
	ContactEmail string         `mapstructure:"contact_email"`
	UserAgent    string         `mapstructure:"user_agent"`
	Workers      int            `mapstructure:"workers"`
	BatchSize    int            `mapstructure:"batch_size"`
	MinDelay     time.Duration  `mapstructure:"min_delay"`
	MaxTries     int            `mapstructure:"max_tries"`
	AuditFile    string         `mapstructure:"audit_file"`
	Table        string         `mapstructure:"table"`
	Database     PostgresConfig `mapstructure:"db"`
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`     // Host is the database server address.
	Port     string `mapstructure:"port"`     // Port is the database server port.
	User     string `mapstructure:"user"`     // User is the database user.
	Password string `mapstructure:"password"` // Password is the database user's password.
	Name     string `mapstructure:"name"`     // Name is the name of the database.
}

// NewViper returns a viper instance reading CARTOGRAPH_* and DB_* variables, with defaults set.
// A .env file in the working directory is loaded first when present.
func NewViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyEnv, "production")
	v.SetDefault(KeyHealthPort, 8080)
	v.SetDefault(KeyProviderType, "nominatim")
	v.SetDefault(KeyProviderKey, "")
	v.SetDefault(KeyContactEmail, "")
	v.SetDefault(KeyUserAgent, "")
	v.SetDefault(KeyWorkers, 3)
	v.SetDefault(KeyBatchSize, 200)
	v.SetDefault(KeyMinDelay, "800ms")
	v.SetDefault(KeyMaxTries, 6)
	v.SetDefault(KeyAuditFile, "geocode_failures.csv")
	v.SetDefault(KeyTable, "houses")
	v.SetDefault("db.port", "5432")

	_ = v.BindEnv("db.host", "DB_HOST")
	_ = v.BindEnv("db.port", "DB_PORT")
	_ = v.BindEnv("db.user", "DB_USERNAME")
	_ = v.BindEnv("db.password", "DB_PASSWORD")
	_ = v.BindEnv("db.name", "DB_NAME")

	return v
}

// BindFlags registers the command line overrides on flags and binds them to v.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.Int("workers", 3, "number of concurrent geocoding workers")
	flags.Int("batch-size", 200, "records fetched per batch")
	flags.Duration("min-delay", 800*time.Millisecond, "minimum delay between two outbound requests")
	flags.Int("max-tries", 6, "attempts per address on transient failures")
	flags.String("audit-file", "geocode_failures.csv", "CSV file receiving addresses that were not updated")
	flags.String("provider", "nominatim", "geocoding provider: nominatim, google or visicom")

	bindings := map[string]string{
		KeyWorkers:      "workers",
		KeyBatchSize:    "batch-size",
		KeyMinDelay:     "min-delay",
		KeyMaxTries:     "max-tries",
		KeyAuditFile:    "audit-file",
		KeyProviderType: "provider",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}

	return nil
}

// Load reads the configuration from v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	healthPort, err := strconv.Atoi(v.GetString(KeyHealthPort))
	if err != nil || healthPort < 0 {
		return nil, ErrPort
	}

	workers, err := positiveInt(v, KeyWorkers)
	if err != nil {
		return nil, ErrWorkers
	}

	batchSize, err := positiveInt(v, KeyBatchSize)
	if err != nil {
		return nil, ErrBatchSize
	}

	maxTries, err := positiveInt(v, KeyMaxTries)
	if err != nil {
		return nil, ErrMaxTries
	}

	minDelay, err := time.ParseDuration(v.GetString(KeyMinDelay))
	if err != nil || minDelay < 0 {
		return nil, ErrMinDelay
	}

	return &Config{
		Env:          v.GetString(KeyEnv),
		Port:         healthPort,
		ProviderType: strings.ToLower(v.GetString(KeyProviderType)),
		APIKey:       v.GetString(KeyProviderKey),
		ContactEmail: v.GetString(KeyContactEmail),
		UserAgent:    v.GetString(KeyUserAgent),
		Workers:      workers,
		BatchSize:    batchSize,
		MinDelay:     minDelay,
		MaxTries:     maxTries,
		AuditFile:    v.GetString(KeyAuditFile),
		Table:        v.GetString(KeyTable),
		Database: PostgresConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
	}, nil
}

func positiveInt(v *viper.Viper, key string) (int, error) {
	n, err := strconv.Atoi(v.GetString(key))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
