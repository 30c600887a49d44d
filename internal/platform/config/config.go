package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mssola/useragent"
	"github.com/spf13/viper"

	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/membership"
)

// Config holds all configuration for the bot. Keys are environment variable
// names; a .env file in the working directory is read when present.
type Config struct {
	DiscordToken    string `mapstructure:"DISCORD_TOKEN"`
	VerifyChannelID string `mapstructure:"VERIFY_CHANNEL_ID"`
	GuildID         string `mapstructure:"GUILD_ID"`
	MEGAvoterRoleID string `mapstructure:"MEGAVOTER_ROLE_ID"`
	PatronRoleID    string `mapstructure:"PATRON_ROLE_ID"`

	HealthAddr  string `mapstructure:"HEALTH_ADDR"`
	Environment string `mapstructure:"ENVIRONMENT"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	DirectoryURL      string        `mapstructure:"DIRECTORY_URL"`
	ContactUserAgent  string        `mapstructure:"CONTACT_USER_AGENT"`
	FetchMaxRetries   int           `mapstructure:"FETCH_MAX_RETRIES"`
	FetchInitialDelay time.Duration `mapstructure:"FETCH_INITIAL_DELAY"`
	FetchTimeout      time.Duration `mapstructure:"FETCH_TIMEOUT"`
	Cooldown          time.Duration `mapstructure:"COOLDOWN"`
	DirectoryCacheTTL time.Duration `mapstructure:"DIRECTORY_CACHE_TTL"`

	Redis RedisConfig `mapstructure:",squash"`
	Kafka KafkaConfig `mapstructure:",squash"`
}

// RedisConfig configures the optional Redis backend for cooldowns and the
// directory snapshot. An empty URL keeps both in memory.
type RedisConfig struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

// KafkaConfig configures the optional audit event sink. Empty brokers
// disable it.
type KafkaConfig struct {
	Brokers string `mapstructure:"KAFKA_BROKERS"`
	Topic   string `mapstructure:"AUDIT_TOPIC"`
	Acks    string `mapstructure:"KAFKA_ACKS"`
}

var defaults = map[string]any{
	"HEALTH_ADDR":          ":8080",
	"ENVIRONMENT":          "development",
	"LOG_LEVEL":            "info",
	"DIRECTORY_URL":        membership.DefaultDirectoryURL,
	"CONTACT_USER_AGENT":   contact.DefaultUserAgent,
	"FETCH_MAX_RETRIES":    5,
	"FETCH_INITIAL_DELAY":  time.Second,
	"FETCH_TIMEOUT":        15 * time.Second,
	"COOLDOWN":             5 * time.Second,
	"DIRECTORY_CACHE_TTL":  10 * time.Minute,
	"REDIS_URL":            "",
	"REDIS_POOL_SIZE":      10,
	"REDIS_MIN_IDLE_CONNS": 2,
	"REDIS_DIAL_TIMEOUT":   5 * time.Second,
	"REDIS_READ_TIMEOUT":   3 * time.Second,
	"REDIS_WRITE_TIMEOUT":  3 * time.Second,
	"KAFKA_BROKERS":        "",
	"AUDIT_TOPIC":          "qrverify.audit.events",
	"KAFKA_ACKS":           "all",
}

var unsetKeys = []string{
	"DISCORD_TOKEN",
	"VERIFY_CHANNEL_ID",
	"GUILD_ID",
	"MEGAVOTER_ROLE_ID",
	"PATRON_ROLE_ID",
}

// FromEnv loads configuration from the environment and an optional .env file.
// It does not validate; call Validate before starting the bot.
func FromEnv() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range unsetKeys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return &cfg, nil
}

// Validate checks the settings the bot cannot start without.
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"DISCORD_TOKEN":     c.DiscordToken,
		"VERIFY_CHANNEL_ID": c.VerifyChannelID,
		"MEGAVOTER_ROLE_ID": c.MEGAvoterRoleID,
		"PATRON_ROLE_ID":    c.PatronRoleID,
	}
	for _, key := range []string{"DISCORD_TOKEN", "VERIFY_CHANNEL_ID", "MEGAVOTER_ROLE_ID", "PATRON_ROLE_ID"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.FetchMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("FETCH_MAX_RETRIES must be at least 1"))
	}
	if c.FetchInitialDelay < 0 || c.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("FETCH_INITIAL_DELAY and COOLDOWN must not be negative"))
	}
	if err := validateUserAgent(c.ContactUserAgent); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// validateUserAgent rejects strings qr1.be would not treat as a desktop
// browser.
func validateUserAgent(ua string) error {
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return fmt.Errorf("CONTACT_USER_AGENT %q identifies as a bot", ua)
	}
	if parsed.Mozilla() == "" {
		return fmt.Errorf("CONTACT_USER_AGENT %q is not a browser user agent", ua)
	}
	if name, _ := parsed.Browser(); name == "" {
		return fmt.Errorf("CONTACT_USER_AGENT %q has no recognizable browser", ua)
	}
	return nil
}

// IsProduction reports whether the bot runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
