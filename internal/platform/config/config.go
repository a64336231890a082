package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultOrderCodePrefix   = "OIY-26"
	defaultOrderCodeAttempts = 5
	defaultCheckoutMaxLines  = 50
)

// Config aggregates every runtime setting the API needs, grouped by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Checkout  CheckoutConfig
	Payments  PaymentsConfig
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig identifies the Firestore project backing persistence.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig wires the optional order-event topic.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// Enabled reports whether event publishing should be wired at startup.
func (c PubSubConfig) Enabled() bool {
	return strings.TrimSpace(c.OrderEventsTopic) != ""
}

// CheckoutConfig tunes order-code generation and cart limits.
type CheckoutConfig struct {
	OrderCodePrefix   string
	OrderCodeAttempts int
	MaxLines          int
}

// PaymentsConfig carries the bank-transfer details surfaced to customers.
// Empty values disable the payment-intent endpoint.
type PaymentsConfig struct {
	BankBIN         string
	BankAccountNo   string
	BankAccountName string
}

// Configured reports whether transfer instructions can be produced.
func (c PaymentsConfig) Configured() bool {
	return strings.TrimSpace(c.BankBIN) != "" && strings.TrimSpace(c.BankAccountNo) != ""
}

// ValidationError lists configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", strings.Join(e.fields, ", "))
}

// Fields returns the invalid field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises the Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the dotenv file consulted during Load.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies explicit values that take precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from the env map, process environment and
// dotenv file, in that precedence order.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Checkout: CheckoutConfig{
			OrderCodePrefix:   stringWithDefault(lookup, "API_CHECKOUT_ORDER_CODE_PREFIX", defaultOrderCodePrefix),
			OrderCodeAttempts: intWithDefault(lookup, "API_CHECKOUT_ORDER_CODE_ATTEMPTS", defaultOrderCodeAttempts),
			MaxLines:          intWithDefault(lookup, "API_CHECKOUT_MAX_LINES", defaultCheckoutMaxLines),
		},
		Payments: PaymentsConfig{
			BankBIN:         stringWithDefault(lookup, "API_PAYMENTS_BANK_BIN", ""),
			BankAccountNo:   stringWithDefault(lookup, "API_PAYMENTS_BANK_ACCOUNT_NO", ""),
			BankAccountName: stringWithDefault(lookup, "API_PAYMENTS_BANK_ACCOUNT_NAME", ""),
		},
	}

	// PubSub publishes to the same project as Firestore unless told otherwise.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		invalid = append(invalid, "Server.Port")
	} else if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		invalid = append(invalid, "Server.Port")
	}
	if strings.TrimSpace(cfg.Checkout.OrderCodePrefix) == "" {
		invalid = append(invalid, "Checkout.OrderCodePrefix")
	}
	if cfg.Checkout.OrderCodeAttempts < 1 {
		invalid = append(invalid, "Checkout.OrderCodeAttempts")
	}
	if cfg.Checkout.MaxLines < 1 {
		invalid = append(invalid, "Checkout.MaxLines")
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
