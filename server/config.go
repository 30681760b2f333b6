package server

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
)

// Config keeps the user-provided server parameters. Every field can
// come from a yaml file, the environment, or both, with the
// environment winning.
type Config struct {
	Hostname string `yaml:"hostname" env:"PIGEONHOLE_HOSTNAME" env-default:"localhost"`
	Smtp     string `yaml:"smtp" env:"PIGEONHOLE_SMTP" env-default:":2525"`
	Pop      string `yaml:"pop" env:"PIGEONHOLE_POP" env-default:":1110"`
	Maildir  string `yaml:"maildir" env:"PIGEONHOLE_MAILDIR" env-default:"mail"`
	Users    string `yaml:"users" env:"PIGEONHOLE_USERS" env-default:"users"`

	// WatchUsers reloads the registry whenever the file changes.
	WatchUsers bool `yaml:"watch_users" env:"PIGEONHOLE_WATCH_USERS" env-default:"false"`

	// IdleTimeout cuts off connections whose peers go quiet.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"PIGEONHOLE_IDLE_TIMEOUT" env-default:"5m"`

	// LockWait bounds how long a retrieval login waits for a busy
	// mailbox before reporting it locked. Zero means no waiting.
	LockWait time.Duration `yaml:"lock_wait" env:"PIGEONHOLE_LOCK_WAIT" env-default:"0s"`

	Debug bool `yaml:"debug" env:"DEBUG" env-default:"false"`
}

// LoadConfig reads the configuration file if a path is given,
// otherwise just the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, errors.Wrap(err, "read config from environment")
	}
	return cfg, nil
}
