// Package config loads relay settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	StorageFile   = "file"
	StorageClover = "clover"
)

type Config struct {
	Host string `env:"RELAY_HOST,default=0.0.0.0"`
	Port int    `env:"RELAY_PORT,default=8989" validate:"min=1,max=65535"`

	DataDir string `env:"RELAY_DATA_DIR,default=./data/chat" validate:"required"`
	Storage string `env:"RELAY_STORAGE,default=file" validate:"oneof=file clover"`
	Fsync   bool   `env:"RELAY_FSYNC,default=true"`

	MaxStoredMemory int    `env:"RELAY_MAX_STORED_MEMORY,default=1500" validate:"min=1"`
	PreloadDays     int    `env:"RELAY_PRELOAD_DAYS,default=3" validate:"min=1,max=366"`
	MaxNickLength   int    `env:"RELAY_MAX_NICK_LENGTH,default=32" validate:"min=1"`
	MaxTextLength   int    `env:"RELAY_MAX_TEXT_LENGTH,default=2000" validate:"min=1"`
	DefaultNick     string `env:"RELAY_DEFAULT_NICK,default=anonymous" validate:"required"`

	SubscriberBuffer int           `env:"RELAY_SUBSCRIBER_BUFFER,default=256" validate:"min=1"`
	RateBurst        int           `env:"RELAY_RATE_BURST,default=5" validate:"min=0"`
	RateInterval     time.Duration `env:"RELAY_RATE_INTERVAL,default=1s"`
	AllowedOrigins   string        `env:"RELAY_ALLOWED_ORIGINS,default=*"`

	AMQPURL      string `env:"RELAY_AMQP_URL"`
	AMQPExchange string `env:"RELAY_AMQP_EXCHANGE,default=chat-messages" validate:"required"`

	LogLevel  string `env:"RELAY_LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"RELAY_LOG_FORMAT,default=json" validate:"oneof=json indent"`
}

var validate = validator.New()

// Load reads .env when present, then the process environment, and
// validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: read .env: %w", err)
	}
	return FromEnviron()
}

func FromEnviron() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits AllowedOrigins on commas.
func (c Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(parts)
}
