package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StripeConfig struct {
	APIKey string `mapstructure:"api_key"`
	// DefaultPaymentMethodTypes is the fallback used when checkout-session
	// creation is rejected for a missing payment method configuration.
	DefaultPaymentMethodTypes []string `mapstructure:"default_payment_method_types"`
}

type AttachConfig struct {
	// LockTTL bounds how long a customer stays locked if a plan
	// execution dies without releasing.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// AllowMultipleTrials disables fingerprint trial dedup for the org.
	AllowMultipleTrials bool `mapstructure:"allow_multiple_trials"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Attach   AttachConfig   `mapstructure:"attach"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("accord")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/accord")

	v.SetEnvPrefix("ACCORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("stripe.default_payment_method_types", []string{"card"})
	v.SetDefault("attach.lock_ttl", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
