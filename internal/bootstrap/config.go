package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"
)

// Lookup methods for the resolver's configured lookup-field sets.
const (
	LookupSequential = "sequential" // try fields one at a time until a match
	LookupAll        = "all"        // AND every present field into one predicate
)

// DefaultAPIVersion is the Salesforce REST API version used when the
// config does not pin one.
const DefaultAPIVersion = "55.0"

// DefaultQuotaPercent is the REST quota usage percentage above which the
// run aborts.
const DefaultQuotaPercent = 80

// Config holds the connector configuration, read from a JSON config file
// with environment fallbacks for credentials.
type Config struct {
	InstanceURL string `json:"instance_url"`
	APIVersion  string `json:"api_version,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`

	// OAuth credentials. AccessToken and IssuedAt are written back after a
	// refresh so subsequent runs can reuse a still-fresh token.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	IssuedAt     int64  `json:"issued_at,omitempty"`

	// JWT bearer grant, used instead of the refresh-token grant when a
	// private key is configured.
	JWTPrivateKey string `json:"jwt_private_key,omitempty"`
	JWTSubject    string `json:"jwt_subject,omitempty"`
	JWTAudience   string `json:"jwt_audience,omitempty"`

	// Reconciliation behavior.
	LookupMethod          string              `json:"lookup_method,omitempty"`
	LookupFields          map[string][]string `json:"lookup_fields_dict,omitempty"`
	LookupStrict          bool                `json:"lookup_strict,omitempty"`
	OnlyUpsertEmptyFields bool                `json:"only_upsert_empty_fields,omitempty"`
	CreateCustomFields    bool                `json:"create_custom_fields,omitempty"`
	PermissionSetIDs      []string            `json:"permission_set_ids,omitempty"`
	QuotaPercentTotal     int                 `json:"quota_percent_total,omitempty"`

	// Optional per-stream filter expressions. Records that evaluate to
	// false are skipped without touching the remote API.
	StreamFilters map[string]string `json:"stream_filters,omitempty"`

	path string
	mu   sync.Mutex
}

// Load reads the config file at path, applies .env / environment
// fallbacks, fills defaults, and validates.
func Load(path string) (*Config, error) {
	// Best effort: a missing .env file is not an error
	_ = godotenv.Load()

	cfg := &Config{path: path}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvFallbacks(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap builds a Config from an already-decoded configuration object,
// used by the HTTP trigger surface where no file exists.
func FromMap(raw map[string]interface{}) (*Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvFallbacks(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvFallbacks(cfg *Config) {
	envFallback(&cfg.InstanceURL, "SF_INSTANCE_URL")
	envFallback(&cfg.ClientID, "SF_CLIENT_ID")
	envFallback(&cfg.ClientSecret, "SF_CLIENT_SECRET")
	envFallback(&cfg.RefreshToken, "SF_REFRESH_TOKEN")
	envFallback(&cfg.AccessToken, "SF_ACCESS_TOKEN")
}

func envFallback(target *string, key string) {
	if *target == "" {
		*target = os.Getenv(key)
	}
}

func (c *Config) applyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = DefaultAPIVersion
	}
	if c.LookupMethod == "" {
		c.LookupMethod = LookupSequential
	}
	if c.QuotaPercentTotal == 0 {
		c.QuotaPercentTotal = DefaultQuotaPercent
	}
}

// Validate checks required keys and enumerated values.
func (c *Config) Validate() error {
	if c.InstanceURL == "" {
		return fmt.Errorf("instance_url not defined in config")
	}
	if c.LookupMethod != LookupSequential && c.LookupMethod != LookupAll {
		return fmt.Errorf("invalid lookup_method '%s': must be '%s' or '%s'",
			c.LookupMethod, LookupSequential, LookupAll)
	}
	if c.QuotaPercentTotal < 0 || c.QuotaPercentTotal > 100 {
		return fmt.Errorf("quota_percent_total must be between 0 and 100, got %d", c.QuotaPercentTotal)
	}
	return nil
}

// LookupFieldsFor returns the configured lookup-field set for an object
// type, or nil when none is configured.
func (c *Config) LookupFieldsFor(objectType string) []string {
	if c.LookupFields == nil {
		return nil
	}
	return c.LookupFields[objectType]
}

// SetToken stores a refreshed access token and writes the config back to
// disk so later runs reuse it.
func (c *Config) SetToken(accessToken string, issuedAt int64, instanceURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.AccessToken = accessToken
	c.IssuedAt = issuedAt
	if instanceURL != "" {
		c.InstanceURL = instanceURL
	}

	if c.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", c.path, err)
	}
	return nil
}
