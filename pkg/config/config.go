package config

import (
	"github.com/maximthomas/goradius/pkg/auth"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/modules"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Log      Log                           `mapstructure:"log"`
	Server   Server                        `mapstructure:"server"`
	Admin    Admin                         `mapstructure:"admin"`
	Modules  map[string]modules.Definition `mapstructure:"modules"`
	Sections auth.Sections                 `mapstructure:"sections"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Server struct {
	Address   string    `mapstructure:"address"`
	Secret    string    `mapstructure:"secret"`
	RateLimit RateLimit `mapstructure:"rateLimit"`
}

// RateLimit applies per client address. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Admin is the HTTP management API. An empty address disables it.
type Admin struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwtSecret"`
	Cors      Cors   `mapstructure:"cors"`
}

type Cors struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

const defaultAddress = ":1812"

var config Config

func InitConfig() error {
	var configLogger = log.WithField("module", "config")

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		configLogger.Errorf("error reading config: %s", err)
		return errors.Wrap(err, "unmarshal config")
	}
	if err := c.validate(); err != nil {
		return err
	}
	if err := log.Configure(c.Log.Level, c.Log.Format); err != nil {
		return errors.Wrap(err, "configure logging")
	}
	config = c

	configLogger.Debugf("got configuration %+v", config)
	return nil
}

func (c *Config) validate() error {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Secret == "" {
		return errors.New("server.secret is required")
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst < 1 {
		c.Server.RateLimit.Burst = 1
	}
	return nil
}

func GetConfig() Config {
	return config
}

func SetConfig(newConfig Config) {
	config = newConfig
}
