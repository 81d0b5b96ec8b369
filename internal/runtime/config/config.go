package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// DefaultBoundedCapacity is the mailbox capacity used by QueuedBounded subscribers.
	DefaultBoundedCapacity = 512
	// DefaultDequeueTimeout bounds a single blocking wait of a draining worker.
	DefaultDequeueTimeout = time.Second
	// DefaultShutdownGracePeriod is how long Shutdown waits for workers to finish on their own.
	DefaultShutdownGracePeriod = 10 * time.Second
	// DefaultShutdownForceTimeout is how long Shutdown waits after cancelling workers.
	DefaultShutdownForceTimeout = 10 * time.Second
	// DefaultWebUIPort is the port used by the introspection API when enabled without a port.
	DefaultWebUIPort = 8081

	envPrefix = "RELAY_"
)

// Config groups the broker settings. Zero values are replaced by defaults in
// WithDefaults, so a literal Config{} is a valid starting point.
type Config struct {
	// BoundedCapacity is the fixed size of every QueuedBounded mailbox.
	BoundedCapacity int `env:"BOUNDED_CAPACITY"`
	// DequeueTimeout is the longest a worker blocks on an empty mailbox before it
	// gives up its Active flag.
	DequeueTimeout time.Duration `env:"DEQUEUE_TIMEOUT"`

	// MaxWorkers bounds the number of concurrently draining workers. Zero means
	// unbounded: one goroutine per active subscriber.
	MaxWorkers int `env:"MAX_WORKERS"`

	// ShutdownGracePeriod and ShutdownForceTimeout drive the two shutdown phases.
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD"`
	ShutdownForceTimeout time.Duration `env:"SHUTDOWN_FORCE_TIMEOUT"`

	// AutoRegisterDestinations makes name based envelopes register unknown
	// destination names instead of resolving them to Drop.
	AutoRegisterDestinations bool `env:"AUTO_REGISTER_DESTINATIONS"`

	// Metrics configuration.
	MetricsEnabled bool `env:"METRICS_ENABLED"`
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int `env:"METRICS_PORT"`

	// WebUI configuration.
	WebUIEnabled bool `env:"WEBUI_ENABLED"`
	// WebUIPort is the port where the introspection API will be exposed. Defaults to 8081.
	WebUIPort int `env:"WEBUI_PORT"`
	// WebUICORSAllowedOrigins specifies allowed origins for CORS. Use "*" for development
	// or specific origins like "https://example.com" for production. Empty disables CORS headers.
	WebUICORSAllowedOrigins []string `env:"WEBUI_CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Default returns a Config populated with the library defaults.
func Default() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c where unset values carry their defaults.
func (c Config) WithDefaults() Config {
	if c.BoundedCapacity == 0 {
		c.BoundedCapacity = DefaultBoundedCapacity
	}
	if c.DequeueTimeout == 0 {
		c.DequeueTimeout = DefaultDequeueTimeout
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = DefaultShutdownGracePeriod
	}
	if c.ShutdownForceTimeout == 0 {
		c.ShutdownForceTimeout = DefaultShutdownForceTimeout
	}
	if c.WebUIEnabled && c.WebUIPort == 0 {
		c.WebUIPort = DefaultWebUIPort
	}
	return c
}

// FromEnv loads a Config from RELAY_* environment variables and applies defaults.
func FromEnv() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("relay: parse environment: %w", err)
	}
	return c.WithDefaults(), nil
}

func (c Config) String() string {
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// Validate checks that the configuration values are usable.
// Returns an error describing every invalid field.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateMailbox()...)
	errs = append(errs, c.validateShutdown()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateMailbox() []error {
	var errs []error
	if c.BoundedCapacity < 0 {
		errs = append(errs, fmt.Errorf("mailbox: bounded capacity cannot be negative (%d)", c.BoundedCapacity))
	}
	if c.DequeueTimeout < 0 {
		errs = append(errs, errors.New("mailbox: dequeue timeout cannot be negative"))
	}
	if c.MaxWorkers < 0 {
		errs = append(errs, errors.New("pool: max workers cannot be negative"))
	}
	return errs
}

func (c *Config) validateShutdown() []error {
	var errs []error
	if c.ShutdownGracePeriod < 0 {
		errs = append(errs, errors.New("shutdown: grace period cannot be negative"))
	}
	if c.ShutdownForceTimeout < 0 {
		errs = append(errs, errors.New("shutdown: force timeout cannot be negative"))
	}
	return errs
}

// validatePorts checks port configuration values.
func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.WebUIPort < 0 || c.WebUIPort > 65535 {
		errs = append(errs, fmt.Errorf("webui: invalid port %d", c.WebUIPort))
	}
	return errs
}
