// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	VisitorTTL  time.Duration
	Debug       bool

	Identity IdentityConfig
	Email    EmailConfig
	Calendar CalendarConfig
}

// IdentityConfig holds identity service and document store credentials.
type IdentityConfig struct {
	APIKey            string
	ProjectID         string
	CredentialsPath   string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	RecordTimeout     time.Duration
}

// EmailConfig identifies the transactional email service account.
type EmailConfig struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
}

// CalendarConfig holds the scheduling widget credentials and query window.
type CalendarConfig struct {
	ClientID        string
	DataCenter      string
	ElementToken    string
	Sub             string
	ScriptURL       string
	Timezone        string
	DurationMinutes int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/portal.db"),
		VisitorTTL:  getEnvDuration("VISITOR_TTL", 30*time.Minute),
		Debug:       getEnvBool("DEBUG", false),
		Identity: IdentityConfig{
			APIKey:            getEnv("FIREBASE_API_KEY", ""),
			ProjectID:         getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath:   getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			OAuthClientID:     getEnv("GOOGLE_OAUTH_CLIENT_ID", ""),
			OAuthClientSecret: getEnv("GOOGLE_OAUTH_CLIENT_SECRET", ""),
			OAuthRedirectURL:  getEnv("GOOGLE_OAUTH_REDIRECT_URL", ""),
			RecordTimeout:     getEnvDuration("USER_RECORD_TIMEOUT", 10*time.Second),
		},
		Email: EmailConfig{
			ServiceID:  getEnv("EMAILJS_SERVICE_ID", ""),
			TemplateID: getEnv("EMAILJS_TEMPLATE_ID", ""),
			PublicKey:  getEnv("EMAILJS_PUBLIC_KEY", ""),
			PrivateKey: getEnv("EMAILJS_PRIVATE_KEY", ""),
		},
		Calendar: CalendarConfig{
			ClientID:        getEnv("CRONOFY_CLIENT_ID", ""),
			DataCenter:      getEnv("CRONOFY_DATA_CENTER", ""),
			ElementToken:    getEnv("CRONOFY_ELEMENT_TOKEN", ""),
			Sub:             getEnv("CRONOFY_SUB", ""),
			ScriptURL:       getEnv("CRONOFY_SCRIPT_URL", ""),
			Timezone:        getEnv("SCHEDULE_TIMEZONE", "UTC"),
			DurationMinutes: getEnvInt("SCHEDULE_DURATION_MINUTES", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
// Missing third-party credentials are not errors; they switch features off.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.VisitorTTL < 0 {
		return fmt.Errorf("VISITOR_TTL must be >= 0")
	}
	if c.Calendar.DurationMinutes <= 0 {
		return fmt.Errorf("SCHEDULE_DURATION_MINUTES must be > 0")
	}
	if _, err := time.LoadLocation(c.Calendar.Timezone); err != nil {
		return fmt.Errorf("SCHEDULE_TIMEZONE %q: %w", c.Calendar.Timezone, err)
	}
	if c.Identity.OAuthClientID != "" && c.Identity.OAuthClientSecret == "" {
		return fmt.Errorf("GOOGLE_OAUTH_CLIENT_SECRET is required when GOOGLE_OAUTH_CLIENT_ID is set")
	}
	return nil
}

// Location returns the scheduling time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasIdentity reports whether sign-in can be offered.
func (c *Config) HasIdentity() bool { return c.Identity.APIKey != "" }

// HasEmail reports whether the contact form can send.
func (c *Config) HasEmail() bool {
	return c.Email.ServiceID != "" && c.Email.TemplateID != "" && c.Email.PublicKey != ""
}

// HasCalendar reports whether the scheduling widget can be offered.
func (c *Config) HasCalendar() bool {
	return c.Calendar.ClientID != "" && c.Calendar.DataCenter != "" && c.Calendar.ElementToken != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
