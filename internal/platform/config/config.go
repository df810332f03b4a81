package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 60 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultEnvironment       = "local"
	defaultGatewayProvider   = "razorpay"
	defaultGatewayTimeout    = 10 * time.Second
	defaultShippingBaseURL   = "https://apiv2.shiprocket.in"
	defaultShippingTimeout   = 15 * time.Second
	defaultShippingRetries   = 3
	defaultSweepBatchSize    = 5
	defaultSweepBatchDelay   = time.Second
	defaultSweepPageSize     = 50
	defaultSweepLookback     = 48 * time.Hour
	defaultSyncPerMinute     = 6
	defaultWebhookEventTTL   = 72 * time.Hour
	defaultOIDCJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer    = "https://accounts.google.com"
	defaultSentryEnvironment = "local"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Gateway       GatewayConfig
	Shipping      ShippingConfig
	Sweep         SweepConfig
	Admin         AdminConfig
	PubSub        PubSubConfig
	Storage       StorageConfig
	Webhooks      WebhookConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	Security      SecurityConfig
	RateLimits    RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig selects and authenticates the payment gateway.
type GatewayConfig struct {
	Provider      string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	StripeAPIKey  string
	Currency      string
	Timeout       time.Duration
}

// ShippingConfig authenticates against the shipping provider.
type ShippingConfig struct {
	BaseURL        string
	Email          string
	Password       string
	WebhookToken   string
	PickupLocation string
	Timeout        time.Duration
	MaxRetries     int
	AutoCreate     bool
}

// SweepConfig tunes reconciliation batches.
type SweepConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	PageSize   int
	Lookback   time.Duration
}

// AdminConfig holds the immutable default super-admin.
type AdminConfig struct {
	DefaultEmail string
}

// PubSubConfig lists topics for notifications and order events.
type PubSubConfig struct {
	ProjectID          string
	NotificationsTopic string
	OrderEventsTopic   string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ExportsBucket string
}

// WebhookConfig controls webhook dedup.
type WebhookConfig struct {
	EventTTL time.Duration
}

// RedisConfig points at the optional event-id dedup store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ObservabilityConfig configures error reporting.
type ObservabilityConfig struct {
	SentryDSN         string
	SentryEnvironment string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	SyncPerMinute int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification for scheduler calls.
type OIDCConfig struct {
	JWKSURL       string
	Audience      string
	Issuers       []string
	AllowedEmails []string
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

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	sort.Strings(out)
	return out
}

// RedactedNames returns short hashes of the identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Gateway.KeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective environment (dotenv < OS env < explicit map) so callers
// can build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, .env overrides, environment
// variables and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			Provider:      strings.ToLower(stringWithDefault(lookup, "API_GATEWAY_PROVIDER", defaultGatewayProvider)),
			KeyID:         stringWithDefault(lookup, "API_GATEWAY_KEY_ID", ""),
			KeySecret:     stringWithDefault(lookup, "API_GATEWAY_KEY_SECRET", ""),
			WebhookSecret: stringWithDefault(lookup, "API_GATEWAY_WEBHOOK_SECRET", ""),
			StripeAPIKey:  stringWithDefault(lookup, "API_STRIPE_SECRET_KEY", ""),
			Currency:      strings.ToUpper(stringWithDefault(lookup, "API_GATEWAY_CURRENCY", "INR")),
			Timeout:       durationWithDefault(lookup, "API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Shipping: ShippingConfig{
			BaseURL:        stringWithDefault(lookup, "API_SHIPPING_BASE_URL", defaultShippingBaseURL),
			Email:          stringWithDefault(lookup, "API_SHIPPING_EMAIL", ""),
			Password:       stringWithDefault(lookup, "API_SHIPPING_PASSWORD", ""),
			WebhookToken:   stringWithDefault(lookup, "API_SHIPPING_WEBHOOK_TOKEN", ""),
			PickupLocation: stringWithDefault(lookup, "API_SHIPPING_PICKUP_LOCATION", "Primary"),
			Timeout:        durationWithDefault(lookup, "API_SHIPPING_TIMEOUT", defaultShippingTimeout),
			MaxRetries:     intWithDefault(lookup, "API_SHIPPING_MAX_RETRIES", defaultShippingRetries),
			AutoCreate:     boolWithDefault(lookup, "API_SHIPPING_AUTO_CREATE", false),
		},
		Sweep: SweepConfig{
			BatchSize:  intWithDefault(lookup, "API_SWEEP_BATCH_SIZE", defaultSweepBatchSize),
			BatchDelay: durationWithDefault(lookup, "API_SWEEP_BATCH_DELAY", defaultSweepBatchDelay),
			PageSize:   intWithDefault(lookup, "API_SWEEP_PAGE_SIZE", defaultSweepPageSize),
			Lookback:   durationWithDefault(lookup, "API_SWEEP_LOOKBACK", defaultSweepLookback),
		},
		Admin: AdminConfig{
			DefaultEmail: strings.ToLower(strings.TrimSpace(stringWithDefault(lookup, "API_ADMIN_DEFAULT_EMAIL", ""))),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationsTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", ""),
			OrderEventsTopic:   stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Storage: StorageConfig{
			ExportsBucket: stringWithDefault(lookup, "API_EXPORTS_BUCKET", ""),
		},
		Webhooks: WebhookConfig{
			EventTTL: durationWithDefault(lookup, "API_WEBHOOK_EVENT_TTL", defaultWebhookEventTTL),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Observability: ObservabilityConfig{
			SentryDSN:         stringWithDefault(lookup, "API_SENTRY_DSN", ""),
			SentryEnvironment: stringWithDefault(lookup, "API_SENTRY_ENVIRONMENT", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:       stringWithDefault(lookup, "API_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:      stringWithDefault(lookup, "API_OIDC_AUDIENCE", ""),
				Issuers:       csvWithDefault(lookup, "API_OIDC_ISSUERS"),
				AllowedEmails: csvWithDefault(lookup, "API_OIDC_ALLOWED_EMAILS"),
			},
		},
		RateLimits: RateLimitConfig{
			SyncPerMinute: intWithDefault(lookup, "API_RATELIMIT_SYNC_PER_MIN", defaultSyncPerMinute),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Observability.SentryEnvironment == "" {
		cfg.Observability.SentryEnvironment = cfg.Security.Environment
		if cfg.Observability.SentryEnvironment == "" {
			cfg.Observability.SentryEnvironment = defaultSentryEnvironment
		}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.KeySecret", &cfg.Gateway.KeySecret},
		{"Gateway.WebhookSecret", &cfg.Gateway.WebhookSecret},
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
		{"Shipping.Password", &cfg.Shipping.Password},
		{"Shipping.WebhookToken", &cfg.Shipping.WebhookToken},
		{"Redis.Password", &cfg.Redis.Password},
		{"Observability.SentryDSN", &cfg.Observability.SentryDSN},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
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
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	switch cfg.Gateway.Provider {
	case "razorpay", "stripe":
	default:
		missing = append(missing, "Gateway.Provider")
	}
	if cfg.Admin.DefaultEmail == "" || !strings.Contains(cfg.Admin.DefaultEmail, "@") {
		missing = append(missing, "Admin.DefaultEmail")
	}
	if cfg.Sweep.BatchSize <= 0 {
		missing = append(missing, "Sweep.BatchSize")
	}
	if cfg.Sweep.PageSize <= 0 || cfg.Sweep.PageSize > 100 {
		missing = append(missing, "Sweep.PageSize")
	}
	if cfg.Sweep.BatchDelay < 0 {
		missing = append(missing, "Sweep.BatchDelay")
	}
	if cfg.Webhooks.EventTTL <= 0 {
		missing = append(missing, "Webhooks.EventTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
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
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
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
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
