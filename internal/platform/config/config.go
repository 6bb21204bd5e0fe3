package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultRequestTimeout   = 30 * time.Second
	defaultLogLevel         = "info"
	defaultDialTimeout      = 10 * time.Second
	defaultCombosCollection = "combos"
	defaultOrdersCollection = "orders"
	defaultStaticSource     = "embedded"
	defaultFallbackPolicy   = FallbackAllCategories
	defaultBreakerFailures  = 3
	defaultBreakerCooldown  = 30 * time.Second
	defaultQueryTimeout     = 10 * time.Second
	defaultCartBackend      = CartBackendMemory
	defaultCartDir          = "var/carts"
	defaultCartKeyPrefix    = "cart"
	defaultCartTTL          = 30 * 24 * time.Hour
	defaultCookieName       = "nail_store_session"
	defaultSessionLifetime  = 30 * 24 * time.Hour
	defaultLocale           = "vi"
)

// Fallback policies accepted by STORE_CATALOG_FALLBACK_POLICY.
const (
	FallbackAllCategories   = "all"
	FallbackHighlightedOnly = "highlighted-only"
)

// Cart snapshot backends accepted by STORE_CART_BACKEND.
const (
	CartBackendMemory = "memory"
	CartBackendFile   = "file"
	CartBackendRedis  = "redis"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Log         LogConfig
	Firestore   FirestoreConfig
	Catalog     CatalogConfig
	Orders      OrdersConfig
	Cart        CartConfig
	Session     SessionConfig
	Locale      LocaleConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// LogConfig selects the minimum log level.
type LogConfig struct {
	Level string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID       string
	EmulatorHost    string
	CredentialsFile string
	DialTimeout     time.Duration
}

// CatalogConfig controls where listings are loaded from.
type CatalogConfig struct {
	Collection      string
	StaticSource    string
	FallbackPolicy  string
	BreakerFailures int
	BreakerCooldown time.Duration
	QueryTimeout    time.Duration
}

// OrdersConfig controls where submitted orders go.
type OrdersConfig struct {
	Collection string
	Topic      string
}

// CartConfig selects the snapshot backend for carts.
type CartConfig struct {
	Backend       string
	Dir           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration
}

// SessionConfig configures the signed session cookie.
type SessionConfig struct {
	CookieName string
	HashKey    string
	BlockKey   string
	Secure     bool
	Lifetime   time.Duration
}

// LocaleConfig lists the display languages.
type LocaleConfig struct {
	Default   string
	Supported []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
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

	port := stringWithDefault(lookup, "STORE_SERVER_PORT", "")
	if port == "" {
		// Cloud Run injects PORT.
		port = stringWithDefault(lookup, "PORT", defaultPort)
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "STORE_ENV", "local")),
		Server: ServerConfig{
			Port:           port,
			ReadTimeout:    durationWithDefault(lookup, "STORE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "STORE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "STORE_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			RequestTimeout: durationWithDefault(lookup, "STORE_SERVER_REQUEST_TIMEOUT", defaultRequestTimeout),
		},
		Log: LogConfig{
			Level: stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
		},
		Firestore: FirestoreConfig{
			ProjectID:       stringWithDefault(lookup, "STORE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:    stringWithDefault(lookup, "STORE_FIRESTORE_EMULATOR_HOST", ""),
			CredentialsFile: stringWithDefault(lookup, "STORE_FIREBASE_CREDENTIALS_FILE", ""),
			DialTimeout:     durationWithDefault(lookup, "STORE_FIRESTORE_DIAL_TIMEOUT", defaultDialTimeout),
		},
		Catalog: CatalogConfig{
			Collection:      stringWithDefault(lookup, "STORE_CATALOG_COLLECTION", defaultCombosCollection),
			StaticSource:    stringWithDefault(lookup, "STORE_CATALOG_STATIC_SOURCE", defaultStaticSource),
			FallbackPolicy:  strings.ToLower(stringWithDefault(lookup, "STORE_CATALOG_FALLBACK_POLICY", defaultFallbackPolicy)),
			BreakerFailures: intWithDefault(lookup, "STORE_CATALOG_BREAKER_FAILURES", defaultBreakerFailures),
			BreakerCooldown: durationWithDefault(lookup, "STORE_CATALOG_BREAKER_COOLDOWN", defaultBreakerCooldown),
			QueryTimeout:    durationWithDefault(lookup, "STORE_CATALOG_QUERY_TIMEOUT", defaultQueryTimeout),
		},
		Orders: OrdersConfig{
			Collection: stringWithDefault(lookup, "STORE_ORDERS_COLLECTION", defaultOrdersCollection),
			Topic:      stringWithDefault(lookup, "STORE_ORDERS_TOPIC", ""),
		},
		Cart: CartConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "STORE_CART_BACKEND", defaultCartBackend)),
			Dir:           stringWithDefault(lookup, "STORE_CART_DIR", defaultCartDir),
			RedisAddr:     stringWithDefault(lookup, "STORE_CART_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "STORE_CART_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "STORE_CART_REDIS_DB", 0),
			KeyPrefix:     stringWithDefault(lookup, "STORE_CART_KEY_PREFIX", defaultCartKeyPrefix),
			TTL:           durationWithDefault(lookup, "STORE_CART_TTL", defaultCartTTL),
		},
		Session: SessionConfig{
			CookieName: stringWithDefault(lookup, "STORE_SESSION_COOKIE", defaultCookieName),
			HashKey:    stringWithDefault(lookup, "STORE_SESSION_HASH_KEY", ""),
			BlockKey:   stringWithDefault(lookup, "STORE_SESSION_BLOCK_KEY", ""),
			Lifetime:   durationWithDefault(lookup, "STORE_SESSION_LIFETIME", defaultSessionLifetime),
		},
		Locale: LocaleConfig{
			Default:   strings.ToLower(stringWithDefault(lookup, "STORE_LOCALE_DEFAULT", defaultLocale)),
			Supported: csvWithDefault(lookup, "STORE_LOCALE_SUPPORTED"),
		},
	}
	cfg.Session.Secure = boolWithDefault(lookup, "STORE_SESSION_SECURE", cfg.Environment == "prod")

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = stringWithDefault(lookup, "GOOGLE_CLOUD_PROJECT", "")
	}
	if len(cfg.Locale.Supported) == 0 {
		cfg.Locale.Supported = []string{"vi", "en"}
	}

	secretFields := []*string{
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
		&cfg.Cart.RedisPassword,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsSecretReference reports whether value points at Secret Manager rather than holding a literal.
func IsSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !IsSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Catalog.Collection) == "" {
		missing = append(missing, "Catalog.Collection")
	}
	switch cfg.Catalog.FallbackPolicy {
	case FallbackAllCategories, FallbackHighlightedOnly:
	default:
		missing = append(missing, "Catalog.FallbackPolicy")
	}
	if cfg.Catalog.BreakerFailures <= 0 {
		missing = append(missing, "Catalog.BreakerFailures")
	}
	if strings.TrimSpace(cfg.Orders.Collection) == "" {
		missing = append(missing, "Orders.Collection")
	}
	switch cfg.Cart.Backend {
	case CartBackendMemory:
	case CartBackendFile:
		if strings.TrimSpace(cfg.Cart.Dir) == "" {
			missing = append(missing, "Cart.Dir")
		}
	case CartBackendRedis:
		if strings.TrimSpace(cfg.Cart.RedisAddr) == "" {
			missing = append(missing, "Cart.RedisAddr")
		}
	default:
		missing = append(missing, "Cart.Backend")
	}
	if cfg.Environment == "prod" && cfg.Session.HashKey == "" {
		missing = append(missing, "Session.HashKey")
	}
	if n := len(cfg.Session.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		missing = append(missing, "Session.BlockKey")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
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
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
