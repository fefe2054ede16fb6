// Package config reads the service and shell settings from flags, HABITTREE_*
// environment variables and an optional .env file.
package config

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. HABITTREE_REDIS_URL.
const EnvPrefix = "habittree"

// Keys.
const (
	KeyServerURL         = "server-url"
	KeyJWTSigningKey     = "jwt-signing-key"
	KeyMongoDBURI        = "mongodb-uri"
	KeyDBName            = "db-name"
	KeyUseTransactions   = "use-transactions"
	KeyRedisURL          = "redis-url"
	KeyRabbitMQURL       = "rabbitmq-url"
	KeyProgressConsumers = "progress-consumers"
	KeyTimezone          = "timezone"
	KeyKeyringService    = "keyring-service"
	KeyLogLevel          = "log-level"
)

// Config is the resolved configuration.
type Config struct {
	ServerURL         string
	JWTSigningKey     string
	MongoDBURI        string
	DBName            string
	UseTransactions   bool
	RedisURL          string
	RabbitMQURL       string
	ProgressConsumers int
	Timezone          string
	KeyringService    string
	LogLevel          string

	// Location is Timezone loaded by Validate.
	Location *time.Location
}

// LoadDotEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "error loading .env file")
	}
	return nil
}

// New returns a viper instance with the defaults set and HABITTREE_* variables bound.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyDBName, "habittree")
	v.SetDefault(KeyUseTransactions, false)
	v.SetDefault(KeyProgressConsumers, 2)
	v.SetDefault(KeyTimezone, "UTC")
	v.SetDefault(KeyKeyringService, "HabitTree")
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in flags whose name is a config key.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		err = v.BindPFlag(f.Name, f)
	})
	return err
}

// Load reads the configuration from v. It does not validate it.
func Load(v *viper.Viper) *Config {
	return &Config{
		ServerURL:         v.GetString(KeyServerURL),
		JWTSigningKey:     v.GetString(KeyJWTSigningKey),
		MongoDBURI:        v.GetString(KeyMongoDBURI),
		DBName:            v.GetString(KeyDBName),
		UseTransactions:   v.GetBool(KeyUseTransactions),
		RedisURL:          v.GetString(KeyRedisURL),
		RabbitMQURL:       v.GetString(KeyRabbitMQURL),
		ProgressConsumers: v.GetInt(KeyProgressConsumers),
		Timezone:          v.GetString(KeyTimezone),
		KeyringService:    v.GetString(KeyKeyringService),
		LogLevel:          v.GetString(KeyLogLevel),
	}
}

// Validate checks the settings shared by every command and resolves Location.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return errors.Errorf("invalid %s %q", KeyServerURL, c.ServerURL)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return errors.Wrapf(err, "invalid %s %q", KeyTimezone, c.Timezone)
	}
	c.Location = loc
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ValidateServe checks the settings the backend needs on top of Validate.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSigningKey == "" {
		return errors.Errorf("%s is required", KeyJWTSigningKey)
	}
	if c.ProgressConsumers < 1 {
		return errors.Errorf("%s must be at least 1, got %d", KeyProgressConsumers, c.ProgressConsumers)
	}
	if c.UseTransactions && c.MongoDBURI == "" {
		return errors.Errorf("%s needs %s", KeyUseTransactions, KeyMongoDBURI)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, errors.Errorf("invalid %s %q", KeyLogLevel, c.LogLevel)
	}
	return level, nil
}
