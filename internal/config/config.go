package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sadopc/pgreflect/internal/filter"
)

// Config holds all application configuration.
type Config struct {
	// Format is the default output format, "tree" or "yaml".
	Format      string            `yaml:"format"`
	Color       bool              `yaml:"color"`
	Connections []SavedConnection `yaml:"connections,omitempty"`
	FilterSets  []FilterSet       `yaml:"filter_sets,omitempty"`
}

// SavedConnection holds parameters for a saved database connection.
type SavedConnection struct {
	Name     string `yaml:"name"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
}

// FilterSet is a named include/exclude selection that can be applied by name
// from the command line.
type FilterSet struct {
	Name    string       `yaml:"name"`
	Include []FilterRule `yaml:"include,omitempty"`
	Exclude []FilterRule `yaml:"exclude,omitempty"`
}

// FilterRule scopes a list of anchored name patterns to one schema.
type FilterRule struct {
	Schema   string   `yaml:"schema"`
	Patterns []string `yaml:"patterns"`
}

// IncludeExpression builds the include rules into a filter expression,
// preserving rule order. Returns nil when there are no include rules.
func (fs *FilterSet) IncludeExpression() *filter.Expression {
	return rulesToExpression(fs.Include)
}

// ExcludeExpression builds the exclude rules into a filter expression.
func (fs *FilterSet) ExcludeExpression() *filter.Expression {
	return rulesToExpression(fs.Exclude)
}

func rulesToExpression(rules []FilterRule) *filter.Expression {
	if len(rules) == 0 {
		return nil
	}
	e := filter.New()
	for _, r := range rules {
		for _, p := range r.Patterns {
			e.Add(r.Schema, p)
		}
	}
	return e
}

// Connection returns the saved connection with the given name, or nil.
func (c *Config) Connection(name string) *SavedConnection {
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i]
		}
	}
	return nil
}

// FilterSet returns the filter set with the given name, or nil.
func (c *Config) FilterSet(name string) *FilterSet {
	for i := range c.FilterSets {
		if c.FilterSets[i].Name == name {
			return &c.FilterSets[i]
		}
	}
	return nil
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Format: "tree",
		Color:  true,
	}
}

// ConfigDir returns the pgreflect configuration directory path.
// It uses os.UserConfigDir to locate the base config directory and
// appends "pgreflect" to it, typically resulting in ~/.config/pgreflect/.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config dir: %w", err)
	}
	return filepath.Join(base, "pgreflect"), nil
}

// Load reads a Config from the YAML file at path. If the file does not exist,
// it returns DefaultConfig without error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from the default path
// (ConfigDir()/config.yaml).
func LoadDefault() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the Config to the YAML file at path, creating any necessary
// parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SaveDefault writes the Config to the default path
// (ConfigDir()/config.yaml).
func (c *Config) SaveDefault() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return c.Save(filepath.Join(dir, "config.yaml"))
}

// BuildDSN constructs a PostgreSQL connection string from the individual
// fields of a SavedConnection. If DSN is already set, it is returned as-is.
func (sc *SavedConnection) BuildDSN() string {
	if sc.DSN != "" {
		return sc.DSN
	}

	var b strings.Builder
	b.WriteString("postgres://")

	if sc.User != "" {
		b.WriteString(sc.User)
		if sc.Password != "" {
			b.WriteByte(':')
			b.WriteString(sc.Password)
		}
		b.WriteByte('@')
	}

	host := sc.Host
	if host == "" {
		host = "localhost"
	}
	b.WriteString(host)

	if sc.Port > 0 {
		fmt.Fprintf(&b, ":%d", sc.Port)
	}

	if sc.Database != "" {
		b.WriteByte('/')
		b.WriteString(sc.Database)
	}

	return b.String()
}

// DisplayString returns a human-readable representation of the connection
// without credentials, formatted as "host:port/database".
func (sc *SavedConnection) DisplayString() string {
	host := sc.Host
	if host == "" {
		host = "localhost"
	}

	var location string
	if sc.Port > 0 {
		location = fmt.Sprintf("%s:%d", host, sc.Port)
	} else {
		location = host
	}

	if sc.Database != "" {
		return fmt.Sprintf("%s/%s", location, sc.Database)
	}
	return location
}
