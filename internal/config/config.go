package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transcriptdesk/internal/engine/auth"
)

var validate = validator.New()

// Config models transcriptdesk.yml.
type Config struct {
	Currency string `yaml:"currency" validate:"required,len=3"`
	Tariff   struct {
		PerUnit struct {
			Evaluation  int64 `yaml:"evaluation" validate:"gte=0"`
			Translation int64 `yaml:"translation" validate:"gte=0"`
		} `yaml:"per_unit"`
		Addons struct {
			Notarization int64 `yaml:"notarization" validate:"gte=0"`
			Shipping     int64 `yaml:"shipping" validate:"gte=0"`
		} `yaml:"addons"`
	} `yaml:"tariff"`
	Roles       map[string][]string `yaml:"roles" validate:"required,min=1"`
	Identifiers struct {
		Submission IdentifierFormat `yaml:"submission"`
		Receipt    IdentifierFormat `yaml:"receipt"`
	} `yaml:"identifiers"`
	Counter CounterConfig `yaml:"counter"`
}

// IdentifierFormat controls how a display identifier is built.
// Daily puts the UTC date in the counter scope so the sequence restarts each day.
type IdentifierFormat struct {
	Prefix string `yaml:"prefix" validate:"required,alphanum,max=8"`
	Width  int    `yaml:"width" validate:"gte=1,lte=12"`
	Daily  bool   `yaml:"daily"`
	Region string `yaml:"region" validate:"omitempty,alphanum,max=8"`
}

type CounterConfig struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite redis mongo"`
	Redis   struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
	} `yaml:"redis"`
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
	Breaker struct {
		MaxFailures int           `yaml:"max_failures" validate:"gte=1"`
		OpenTimeout time.Duration `yaml:"open_timeout" validate:"gte=0"`
	} `yaml:"breaker"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
		return Default(), nil
	}
	return nil, err
}

// Validate checks struct tags, then the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	for role, caps := range c.Roles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, cp := range caps {
			if !auth.Known(cp) {
				return fmt.Errorf("role %s grants unknown capability %q", role, cp)
			}
		}
	}
	if c.Identifiers.Submission.Prefix == c.Identifiers.Receipt.Prefix {
		return fmt.Errorf("submission and receipt identifiers must use different prefixes")
	}
	switch c.Counter.Backend {
	case "redis":
		if c.Counter.Redis.Addr == "" {
			return fmt.Errorf("config.counter.redis.addr is required for the redis backend")
		}
	case "mongo":
		if c.Counter.Mongo.URI == "" {
			return fmt.Errorf("config.counter.mongo.uri is required for the mongo backend")
		}
	}
	return nil
}

// Policy builds the capability table from the roles section.
func (c *Config) Policy() auth.Policy {
	return auth.NewPolicy(c.Roles)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "transcriptdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses config on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("default config yaml: %w", err)
	}
	defaultRoles := cfg.Roles
	cfg.Roles = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	// A roles section replaces the default table instead of merging into it.
	if cfg.Roles == nil {
		cfg.Roles = defaultRoles
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `currency: USD

tariff:
  per_unit:
    evaluation: 2500
    translation: 1500
  addons:
    notarization: 3000
    shipping: 2000

roles:
  admin: [submit, request_payment, self_assign, assign_others, unlock_payment, deliver, reject]
  evaluator: [self_assign, deliver]
  translator: [self_assign, deliver]
  student: [submit, request_payment]

identifiers:
  submission:
    prefix: SUB
    width: 4
    daily: true
  receipt:
    prefix: RCP
    width: 6
    daily: false

counter:
  backend: sqlite
  redis:
    addr: ""
    db: 0
  mongo:
    uri: ""
    database: transcriptdesk
    collection: sequence_counters
  breaker:
    max_failures: 5
    open_timeout: 30s
`
