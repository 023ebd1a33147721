package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName          string
	AppEnv           string
	AppPort          string
	DatabaseURL      string
	RedisURL         string
	NATSURL          string
	JWTSecret        string
	JWTRefreshSecret string

	// AccessTokenTTL is the only knob for session token lifetime.
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
	BcryptCost       int
	LoginRateLimit   int
	LoginRateWindow  time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int

	ResultSummaryCacheTTL time.Duration
	SubmitRateLimit       int
	CORSAllowOrigins      []string
	MetricsToken          string

	SeedAdminEmail    string
	SeedAdminPassword string
	SeedAdminName     string
	SeedToken         string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsProduction reports whether internal error details must be hidden from clients.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// GoogleEnabled reports whether the Google OAuth flow is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EXAM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Exam API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("auth.access_token_ttl", "1h")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.lockout_threshold", 5)
	v.SetDefault("auth.lockout_duration", "2h")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.login_rate_limit", 20)
	v.SetDefault("auth.login_rate_window", "1m")
	v.SetDefault("cloudinary.folder", "exam/questions")
	v.SetDefault("upload.max_size_mb", 5)
	v.SetDefault("results.summary_cache_ttl", "5m")
	v.SetDefault("results.submit_rate_limit", 10)
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("seed.admin_name", "Administrator")

	durations := map[string]time.Duration{}
	for _, key := range []string{
		"auth.access_token_ttl",
		"auth.refresh_token_ttl",
		"auth.lockout_duration",
		"auth.login_rate_window",
		"results.summary_cache_ttl",
	} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		JWTRefreshSecret:       v.GetString("jwt.refresh_secret"),
		AccessTokenTTL:         durations["auth.access_token_ttl"],
		RefreshTokenTTL:        durations["auth.refresh_token_ttl"],
		LockoutThreshold:       v.GetInt("auth.lockout_threshold"),
		LockoutDuration:        durations["auth.lockout_duration"],
		BcryptCost:             v.GetInt("auth.bcrypt_cost"),
		LoginRateLimit:         v.GetInt("auth.login_rate_limit"),
		LoginRateWindow:        durations["auth.login_rate_window"],
		GoogleClientID:         v.GetString("google.client_id"),
		GoogleClientSecret:     v.GetString("google.client_secret"),
		GoogleRedirectURL:      v.GetString("google.redirect_url"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		ResultSummaryCacheTTL:  durations["results.summary_cache_ttl"],
		SubmitRateLimit:        v.GetInt("results.submit_rate_limit"),
		CORSAllowOrigins:       splitList(v.GetString("cors.allow_origins")),
		MetricsToken:           strings.TrimSpace(v.GetString("metrics.token")),
		SeedAdminEmail:         strings.ToLower(strings.TrimSpace(v.GetString("seed.admin_email"))),
		SeedAdminPassword:      v.GetString("seed.admin_password"),
		SeedAdminName:          v.GetString("seed.admin_name"),
		SeedToken:              v.GetString("seed.token"),
	}

	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return Config{}, fmt.Errorf("jwt secrets must be provided")
	}

	if cfg.JWTSecret == cfg.JWTRefreshSecret {
		return Config{}, fmt.Errorf("jwt secret and refresh secret must differ")
	}

	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}

	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = 12
	}

	if cfg.LoginRateLimit <= 0 {
		cfg.LoginRateLimit = 20
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 5
	}

	if cfg.SubmitRateLimit <= 0 {
		cfg.SubmitRateLimit = 10
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
