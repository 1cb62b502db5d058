package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for all environment variable overrides.
const envPrefix = "MQTTPROBE_"

// Config is the root configuration structure for mqttprobe.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Auth      AuthConfig      `yaml:"auth"`
	TLS       TLSConfig       `yaml:"tls"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Publish   PublishConfig   `yaml:"publish"`
	Subscribe SubscribeConfig `yaml:"subscribe"`
	Status    StatusConfig    `yaml:"status"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrokerConfig contains MQTT broker connection details.
type BrokerConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	ClientID       string `yaml:"client_id" validate:"required"`
	ClientIDSuffix bool   `yaml:"client_id_suffix"`

	// KeepAlive is the keepalive interval in seconds. 0 disables keepalive.
	KeepAlive int `yaml:"keepalive" validate:"min=0,max=65535"`

	// ConnectTimeout bounds the CONNECT/CONNACK exchange (seconds).
	ConnectTimeout int  `yaml:"connect_timeout" validate:"min=1"`
	CleanSession   bool `yaml:"clean_session"`

	// ProtocolVersion is 3 (MQTT 3.1) or 4 (MQTT 3.1.1).
	ProtocolVersion int `yaml:"protocol_version" validate:"oneof=3 4"`
}

// AuthConfig contains MQTT username/password credentials.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSConfig contains mutual-TLS settings for the broker connection.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// MinVersion and MaxVersion take "1.0", "1.1", "1.2" or "1.3".
	// Both default to "1.2", which pins the handshake to TLS 1.2.
	MinVersion string `yaml:"min_version" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`
	MaxVersion string `yaml:"max_version" validate:"omitempty,oneof=1.0 1.1 1.2 1.3"`

	// VerifyHostname checks the broker certificate against the dialled host name.
	// When false the chain is still verified against CAFile.
	VerifyHostname bool   `yaml:"verify_hostname"`
	ServerName     string `yaml:"server_name"`

	// InsecureSkipVerify disables all broker certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ReconnectConfig contains automatic reconnection settings.
// The first retry waits 1s and each later one doubles up to MaxDelay.
type ReconnectConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxDelay int  `yaml:"max_delay" validate:"min=0"`
}

// PublishConfig describes what the pub command sends.
type PublishConfig struct {
	Topic    string `yaml:"topic" validate:"required"`
	Payload  string `yaml:"payload"`
	QoS      int    `yaml:"qos" validate:"min=0,max=2"`
	Retained bool   `yaml:"retained"`
	Count    int    `yaml:"count" validate:"min=1"`

	// Delays are in milliseconds.
	DelayBefore int `yaml:"delay_before" validate:"min=0"`
	DelayAfter  int `yaml:"delay_after" validate:"min=0"`
	Interval    int `yaml:"interval" validate:"min=0"`
}

// SubscribeConfig describes what the sub command listens to.
type SubscribeConfig struct {
	Topic       string `yaml:"topic" validate:"required"`
	QoS         int    `yaml:"qos" validate:"min=0,max=2"`
	MaxMessages int    `yaml:"max_messages" validate:"min=0"`

	// Duration is in seconds. 0 waits until the process is signalled.
	Duration int `yaml:"duration" validate:"min=0"`
}

// StatusConfig controls the Last Will and online/offline status messages.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic" validate:"required_if=Enabled true"`
}

// JournalConfig contains SQLite event journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path" validate:"required_if=Enabled true"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" validate:"min=0"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url" validate:"required_if=Enabled true"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket        string `yaml:"bucket" validate:"required_if=Enabled true"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
	Output string `yaml:"output" validate:"omitempty,oneof=stdout stderr"`
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	base      *Config
	overrides []func(*Config)
	dotEnv    string
}

// WithBase starts loading from base instead of Default().
// Used to apply a profile before the YAML file.
func WithBase(base *Config) LoadOption {
	return func(o *loadOptions) {
		o.base = base
	}
}

// WithOverrides registers functions applied after environment overrides
// and before validation. The CLI uses this for flags.
func WithOverrides(fns ...func(*Config)) LoadOption {
	return func(o *loadOptions) {
		o.overrides = append(o.overrides, fns...)
	}
}

// WithDotEnv sets the dotenv file read before environment overrides.
// An empty path disables dotenv loading.
func WithDotEnv(path string) LoadOption {
	return func(o *loadOptions) {
		o.dotEnv = path
	}
}

// Load builds the configuration and validates it.
//
// The configuration loading order is:
//  1. Default values, or the base passed with WithBase
//  2. YAML file values (skipped when path is empty)
//  3. Variables from the dotenv file (".env" unless WithDotEnv says otherwise)
//  4. MQTTPROBE_* environment variables
//  5. Overrides passed with WithOverrides
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for none
//   - opts: Optional load behaviour
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{dotEnv: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Default()
	if o.base != nil {
		copied := *o.base
		cfg = &copied
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if o.dotEnv != "" {
		// godotenv never overwrites variables already set in the environment.
		if err := godotenv.Load(o.dotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading dotenv file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	for _, fn := range o.overrides {
		fn(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults for a local plaintext broker.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:            "localhost",
			Port:            1883,
			ClientID:        "mqttprobe",
			KeepAlive:       60,
			ConnectTimeout:  10,
			CleanSession:    true,
			ProtocolVersion: 4,
		},
		TLS: TLSConfig{
			CAFile:     "ca.crt",
			CertFile:   "client.crt",
			KeyFile:    "client.key",
			MinVersion: "1.2",
			MaxVersion: "1.2",
		},
		Reconnect: ReconnectConfig{
			Enabled:  true,
			MaxDelay: 60,
		},
		Publish: PublishConfig{
			Topic: "mutual/test",
			Count: 1,
		},
		Subscribe: SubscribeConfig{
			Topic: "mutual/test",
		},
		Status: StatusConfig{
			Topic: "mqttprobe/status",
		},
		Journal: JournalConfig{
			Path:        "./data/mqttprobe.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MQTTPROBE_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envPrefix + "HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing %sPORT: %w", envPrefix, err)
		}
		cfg.Broker.Port = port
	}
	if v := os.Getenv(envPrefix + "CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}

	// Credentials
	if v := os.Getenv(envPrefix + "USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv(envPrefix + "PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}

	// TLS
	if v := os.Getenv(envPrefix + "TLS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sTLS: %w", envPrefix, err)
		}
		cfg.TLS.Enabled = enabled
	}
	if v := os.Getenv(envPrefix + "CA_FILE"); v != "" {
		cfg.TLS.CAFile = v
	}
	if v := os.Getenv(envPrefix + "CERT_FILE"); v != "" {
		cfg.TLS.CertFile = v
	}
	if v := os.Getenv(envPrefix + "KEY_FILE"); v != "" {
		cfg.TLS.KeyFile = v
	}

	if v := os.Getenv(envPrefix + "TOPIC"); v != "" {
		cfg.Publish.Topic = v
		cfg.Subscribe.Topic = v
	}

	if v := os.Getenv(envPrefix + "JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv(envPrefix + "INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// validate is shared; validator.Validate caches struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report YAML key names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration for errors and inconsistent TLS settings.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("configuration errors: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	// TLS cross-field checks
	if c.TLS.Enabled {
		if c.TLS.CAFile == "" && !c.TLS.InsecureSkipVerify {
			errs = append(errs, "tls.ca_file is required when tls is enabled")
		}
		if c.TLS.CertFile == "" {
			errs = append(errs, "tls.cert_file is required when tls is enabled")
		}
		if c.TLS.KeyFile == "" {
			errs = append(errs, "tls.key_file is required when tls is enabled")
		}
		if c.TLS.MinVersion != "" && c.TLS.MaxVersion != "" && c.TLS.MinVersion > c.TLS.MaxVersion {
			errs = append(errs, "tls.min_version must not exceed tls.max_version")
		}
	}

	if strings.ContainsAny(c.Publish.Topic, "+#") {
		errs = append(errs, "publish.topic must not contain wildcards")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// describeFieldError turns a validator failure into "section.key ..." text.
func describeFieldError(fe validator.FieldError) string {
	// Namespace is "Config.section.key"; drop the root type name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// GetKeepAlive returns the broker keepalive as a Duration.
func (c *Config) GetKeepAlive() time.Duration {
	return time.Duration(c.Broker.KeepAlive) * time.Second
}

// GetConnectTimeout returns the connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeout) * time.Second
}

// BrokerAddress returns host:port for display.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.Broker.Host, c.Broker.Port)
}
