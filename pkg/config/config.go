// Package config loads and validates the hutch configuration file.
// Validation fails fast with descriptive errors before any network
// activity.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hutchdns/hutch/pkg/backend"
	"github.com/hutchdns/hutch/pkg/discovery"
	"github.com/hutchdns/hutch/pkg/name"
)

// Containerd holds the event source connection settings.
type Containerd struct {
	Socket    string `yaml:"socket"`
	Namespace string `yaml:"namespace"`
}

// Backend configures one record store. Zone, when set, overrides the
// top-level zone for this backend.
type Backend struct {
	Name     string            `yaml:"name"`
	Driver   string            `yaml:"driver"`
	Zone     string            `yaml:"zone"`
	Settings map[string]string `yaml:"settings"`
}

// Config is the top-level configuration document.
type Config struct {
	Zone              string     `yaml:"zone"`
	Hostname          string     `yaml:"hostname"`
	HostIPv4          string     `yaml:"host_ipv4"`
	HostIPv6          string     `yaml:"host_ipv6"`
	IPv6Only          bool       `yaml:"ipv6_only"`
	RecordTTL         uint32     `yaml:"record_ttl"`
	MetricsAddr       string     `yaml:"metrics_addr"`
	ReconcileInterval string     `yaml:"reconcile_interval"`
	LogLevel          string     `yaml:"log_level"`
	Containerd        Containerd `yaml:"containerd"`
	Backends          []Backend  `yaml:"backends"`

	zone     name.Name
	hostname name.Name
	interval time.Duration
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the document and resolves the derived fields.
func (c *Config) Validate() error {
	if c.Zone == "" {
		return fmt.Errorf("config: zone is required")
	}
	zone, err := name.Parse(ensureAbsolute(c.Zone))
	if err != nil {
		return fmt.Errorf("config: zone: %w", err)
	}
	c.zone = zone

	if c.Hostname == "" {
		return fmt.Errorf("config: hostname is required")
	}
	hostname, err := name.Parse(c.Hostname)
	if err != nil {
		return fmt.Errorf("config: hostname: %w", err)
	}
	if hostname.IsAbsolute() {
		return fmt.Errorf("config: hostname %q must be relative to the zone", c.Hostname)
	}
	c.hostname = hostname

	if c.IPv6Only {
		if c.HostIPv6 == "" {
			return fmt.Errorf("config: host_ipv6 is required in ipv6_only mode")
		}
	} else if c.HostIPv4 == "" {
		return fmt.Errorf("config: host_ipv4 is required")
	}

	if c.ReconcileInterval != "" {
		d, err := time.ParseDuration(c.ReconcileInterval)
		if err != nil {
			return fmt.Errorf("config: reconcile_interval: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("config: reconcile_interval must not be negative")
		}
		c.interval = d
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend is required")
	}
	seen := make(map[string]bool)
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("config: backends[%d]: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("config: backends[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.Driver == "" {
			return fmt.Errorf("config: backend %s: driver is required", b.Name)
		}
		if b.Zone != "" {
			if _, err := name.Parse(ensureAbsolute(b.Zone)); err != nil {
				return fmt.Errorf("config: backend %s: zone: %w", b.Name, err)
			}
		}
	}
	return nil
}

// ManagedZone returns the top-level zone, absolute.
func (c *Config) ManagedZone() name.Name { return c.zone }

// BackendZone returns the zone a backend manages, honoring the
// per-backend override.
func (c *Config) BackendZone(b Backend) name.Name {
	if b.Zone == "" {
		return c.zone
	}
	// Validated, cannot fail here.
	return name.MustParse(ensureAbsolute(b.Zone))
}

// Host builds the discovery host identity from the configuration.
func (c *Config) Host() discovery.Host {
	return discovery.Host{
		Name:     c.hostname,
		IPv4:     c.HostIPv4,
		IPv6:     c.HostIPv6,
		IPv6Only: c.IPv6Only,
		TTL:      c.RecordTTL,
	}
}

// Interval returns the periodic reconciliation interval; zero disables
// the ticker.
func (c *Config) Interval() time.Duration { return c.interval }

// BuildBackends constructs every configured backend, with the host
// identity record attached so SuppressShared withdraws it at shutdown.
func (c *Config) BuildBackends(opts ...backend.Option) ([]*backend.Backend, error) {
	id, err := c.Host().Identity()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts = append([]backend.Option{backend.WithHostRecord(*id.Record)}, opts...)

	out := make([]*backend.Backend, 0, len(c.Backends))
	for _, bc := range c.Backends {
		b, err := backend.New(bc.Name, bc.Driver, c.BackendZone(bc), bc.Settings, opts...)
		if err != nil {
			for _, built := range out {
				_ = built.Close()
			}
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func ensureAbsolute(s string) string {
	if strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}
