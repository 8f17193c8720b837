// Package config loads the gateway configuration: a YAML file for the
// structured parts (accounts, API clients, users), environment variables for
// secrets and deploy-time overrides. A .env file, when present, is folded
// into the environment before parsing.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/quantbridge/quantbridge/pkg/errors"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "bad duration %q", raw)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Account identifies one brokerage account the gateway trades.
type Account struct {
	AccountID    string `yaml:"account_id" validate:"required,numeric"`
	StrategyCode int64  `yaml:"strategy_code" validate:"required,gt=0"`
	DisplayName  string `yaml:"display_name"`
}

// Client is one machine caller allowed to sign requests.
type Client struct {
	ID     string `yaml:"id" validate:"required"`
	Secret string `yaml:"secret" validate:"required,min=16"`
}

// User is one human operator allowed to log in.
type User struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required,min=8"`
}

// Notify configures the webhook notifier. Empty URL disables notifications.
type Notify struct {
	WebhookURL  string `yaml:"webhook_url" validate:"omitempty,url"`
	AccessToken string `yaml:"access_token"`
	Secret      string `yaml:"secret"`
	AtAll       bool   `yaml:"at_all"`
}

// Broker configures the terminal bridge the broker links dial.
type Broker struct {
	BridgeURL string `yaml:"bridge_url" validate:"omitempty,url"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr               string   `yaml:"addr" validate:"required"`
	SignatureTolerance Duration `yaml:"signature_tolerance"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
}

// Config is the full gateway configuration.
type Config struct {
	Server   Server    `yaml:"server"`
	Broker   Broker    `yaml:"broker"`
	Accounts []Account `yaml:"accounts" validate:"required,min=1,dive"`
	Clients  []Client  `yaml:"clients" validate:"dive"`
	Users    []User    `yaml:"users" validate:"dive"`
	Notify   Notify    `yaml:"notify"`
}

// Env holds the environment-only settings: secrets that must not live in the
// config file plus deploy-time toggles.
type Env struct {
	CookieSecret string `envconfig:"QB_COOKIE_SECRET" required:"true"`
	ConfigPath   string `envconfig:"QB_CONFIG" default:"config.yaml"`
	Sim          bool   `envconfig:"QB_SIM" default:"false"`
}

// LoadEnv folds .env into the environment (when present) and parses the
// environment-only settings.
func LoadEnv() (Env, error) {
	// missing .env is the normal case in production
	_ = godotenv.Load()

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "environment parsing failed", err)
	}

	return env, nil
}

// Load reads and validates the YAML configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "cannot read config %s", path)
	}

	return Parse(raw)
}

// Parse decodes and validates a YAML configuration document.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{
		Server: Server{
			Addr:         ":8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "config is not valid YAML", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "config failed validation", err)
	}

	if err := cfg.checkUnique(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// checkUnique rejects duplicate account ids and client ids; both are used as
// lookup keys.
func (c *Config) checkUnique() error {
	accounts := make(map[string]struct{}, len(c.Accounts))

	for _, a := range c.Accounts {
		if _, dup := accounts[a.AccountID]; dup {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate account id %s", a.AccountID)
		}

		accounts[a.AccountID] = struct{}{}
	}

	clients := make(map[string]struct{}, len(c.Clients))

	for _, cl := range c.Clients {
		if _, dup := clients[cl.ID]; dup {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate client id %s", cl.ID)
		}

		clients[cl.ID] = struct{}{}
	}

	return nil
}

// ClientSecrets returns the client table keyed by id, as the signature
// verifier consumes it.
func (c *Config) ClientSecrets() map[string]string {
	out := make(map[string]string, len(c.Clients))

	for _, cl := range c.Clients {
		out[cl.ID] = cl.Secret
	}

	return out
}

// UserTable returns the operator table keyed by username.
func (c *Config) UserTable() map[string]string {
	out := make(map[string]string, len(c.Users))

	for _, u := range c.Users {
		out[u.Username] = u.Password
	}

	return out
}
