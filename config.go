package embedpop

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/embedpop/embedpop/pkg/constants"
	"github.com/embedpop/embedpop/pkg/logger"
	"github.com/embedpop/embedpop/pkg/models"
	"github.com/embedpop/embedpop/pkg/store"
)

const (
	EnvClientURL            = "EMBEDPOP_CLIENT_URL"
	EnvDBName               = "EMBEDPOP_DB_NAME"
	EnvImplicitTransactions = "EMBEDPOP_IMPLICIT_TRANSACTIONS"
	EnvAllowGlobalContext   = "EMBEDPOP_ALLOW_GLOBAL_CONTEXT"
	EnvDebug                = "EMBEDPOP_DEBUG"

	DefaultClientURL = "mongodb://localhost:27017,localhost:27018,localhost:27019/?replicaSet=rs"
)

type Config struct {
	// ClientURL selects the store by its scheme.
	ClientURL string `yaml:"clientUrl"`
	DBName    string `yaml:"dbName"`

	// Entities lists one value of every entity type, e.g. &OtherEntity{}.
	Entities []models.Entity `yaml:"-"`

	ImplicitTransactions bool `yaml:"implicitTransactions"`
	AllowGlobalContext   bool `yaml:"allowGlobalContext"`

	// Debug writes store traces to stderr when no logger is given.
	Debug bool `yaml:"debug"`

	// Timeout bounds every operation of an entity manager. Zero means none.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		ClientURL: DefaultClientURL,
		DBName:    constants.DefaultDatabase,
	}
}

// ConfigFromEnv returns DefaultConfig with the environment applied.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML file on top of DefaultConfig, then applies the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("embedpop: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("embedpop: parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ClientURL = getEnvOrDefault(EnvClientURL, c.ClientURL)
	c.DBName = getEnvOrDefault(EnvDBName, c.DBName)

	for key, dst := range map[string]*bool{
		EnvImplicitTransactions: &c.ImplicitTransactions,
		EnvAllowGlobalContext:   &c.AllowGlobalContext,
		EnvDebug:                &c.Debug,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("embedpop: invalid %s: %q", key, v)
		}
		*dst = b
	}
	return nil
}

func (c Config) validate(hasStore bool) error {
	if len(c.Entities) == 0 {
		return constants.ErrNoEntities
	}
	if hasStore {
		return nil
	}
	if c.ClientURL == "" {
		return constants.ErrNoBaseURL
	}
	if c.DBName == "" {
		return constants.ErrNoDBName
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// Option configures the ORM built by Init.
type Option func(*ORM) error

// WithLogger sets the logger shared by the ORM and the store it opens.
func WithLogger(l logger.Logger) Option {
	return func(o *ORM) error {
		if l == nil {
			return fmt.Errorf("embedpop: nil logger")
		}
		o.logger = l
		return nil
	}
}

// WithStore uses s instead of opening one from Config.ClientURL.
// The caller keeps ownership: ORM.Close does not close it.
func WithStore(s store.Store) Option {
	return func(o *ORM) error {
		if s == nil {
			return fmt.Errorf("embedpop: nil store")
		}
		o.store = s
		return nil
	}
}

// WithTimeout overrides Config.Timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *ORM) error {
		if d < 0 {
			return fmt.Errorf("embedpop: negative timeout %s", d)
		}
		o.timeout = d
		return nil
	}
}
