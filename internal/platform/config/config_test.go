package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"qrverify/internal/verification/contact"
	"qrverify/internal/verification/membership"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) setRequired() {
	s.T().Setenv("DISCORD_TOKEN", "token")
	s.T().Setenv("VERIFY_CHANNEL_ID", "100")
	s.T().Setenv("MEGAVOTER_ROLE_ID", "200")
	s.T().Setenv("PATRON_ROLE_ID", "300")
}

func (s *ConfigSuite) TestDefaults() {
	cfg, err := load("")
	s.Require().NoError(err)

	s.Equal(":8080", cfg.HealthAddr)
	s.Equal(membership.DefaultDirectoryURL, cfg.DirectoryURL)
	s.Equal(contact.DefaultUserAgent, cfg.ContactUserAgent)
	s.Equal(5, cfg.FetchMaxRetries)
	s.Equal(time.Second, cfg.FetchInitialDelay)
	s.Equal(15*time.Second, cfg.FetchTimeout)
	s.Equal(5*time.Second, cfg.Cooldown)
	s.Equal(10*time.Minute, cfg.DirectoryCacheTTL)
	s.Equal("qrverify.audit.events", cfg.Kafka.Topic)
	s.Empty(cfg.Redis.URL)
	s.False(cfg.IsProduction())
}

func (s *ConfigSuite) TestEnvironmentOverrides() {
	s.setRequired()
	s.T().Setenv("FETCH_MAX_RETRIES", "3")
	s.T().Setenv("FETCH_INITIAL_DELAY", "250ms")
	s.T().Setenv("COOLDOWN", "0s")
	s.T().Setenv("REDIS_URL", "redis://localhost:6379/0")
	s.T().Setenv("KAFKA_BROKERS", "localhost:9092")
	s.T().Setenv("LOG_LEVEL", " DEBUG ")
	s.T().Setenv("ENVIRONMENT", "Production")

	cfg, err := load("")
	s.Require().NoError(err)

	s.Equal("token", cfg.DiscordToken)
	s.Equal("100", cfg.VerifyChannelID)
	s.Equal(3, cfg.FetchMaxRetries)
	s.Equal(250*time.Millisecond, cfg.FetchInitialDelay)
	s.Equal(time.Duration(0), cfg.Cooldown)
	s.Equal("redis://localhost:6379/0", cfg.Redis.URL)
	s.Equal("localhost:9092", cfg.Kafka.Brokers)
	s.Equal("debug", cfg.LogLevel)
	s.True(cfg.IsProduction())
	s.NoError(cfg.Validate())
}

func (s *ConfigSuite) TestEnvFile() {
	path := filepath.Join(s.T().TempDir(), ".env")
	s.Require().NoError(os.WriteFile(path, []byte("DISCORD_TOKEN=from-file\nGUILD_ID=55\n"), 0o600))

	cfg, err := load(path)
	s.Require().NoError(err)

	s.Equal("from-file", cfg.DiscordToken)
	s.Equal("55", cfg.GuildID)
}

func (s *ConfigSuite) TestMissingEnvFileIsIgnored() {
	_, err := load(filepath.Join(s.T().TempDir(), "absent.env"))
	s.NoError(err)
}

func (s *ConfigSuite) TestValidateReportsMissingKeys() {
	s.T().Setenv("DISCORD_TOKEN", "")
	s.T().Setenv("PATRON_ROLE_ID", "")

	cfg, err := load("")
	s.Require().NoError(err)

	err = cfg.Validate()
	s.Require().Error(err)
	s.Contains(err.Error(), "DISCORD_TOKEN is required")
	s.Contains(err.Error(), "PATRON_ROLE_ID is required")
}

func TestValidateUserAgent(t *testing.T) {
	tests := []struct {
		name    string
		ua      string
		wantErr bool
	}{
		{"chrome desktop", contact.DefaultUserAgent, false},
		{"firefox", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", false},
		{"crawler", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"cli client", "curl/8.4.0", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUserAgent(tt.ua)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
