// Package config loads and validates the logger's configuration
// document: the database file path and the named groups of topic
// patterns with their retention and rate-limit policy.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// GroupConfig is one entry of the "groups" object in the configuration
// document.
type GroupConfig struct {
	Channels             []string `mapstructure:"channels"`
	Values               int      `mapstructure:"values"`
	ValuesTotal          int      `mapstructure:"values_total"`
	MinInterval          int      `mapstructure:"min_interval"`
	MinUnchangedInterval int      `mapstructure:"min_unchanged_interval"`
}

// Config is the validated configuration structure the engine is built
// from. GroupOrder preserves the order groups appeared in the document,
// which is significant: the first group whose pattern matches an
// incoming topic wins.
type Config struct {
	Database   string                 `mapstructure:"database"`
	Groups     map[string]GroupConfig `mapstructure:"groups"`
	GroupOrder []string               `mapstructure:"-"`
}

// NamedGroup pairs a group's configured name with its settings.
type NamedGroup struct {
	Name   string
	Config GroupConfig
}

// OrderedGroups returns the configured groups in document order.
func (c *Config) OrderedGroups() []NamedGroup {
	out := make([]NamedGroup, 0, len(c.GroupOrder))
	for _, name := range c.GroupOrder {
		out = append(out, NamedGroup{Name: name, Config: c.Groups[name]})
	}
	return out
}

// Load reads and validates the JSON configuration document at path.
// Any negative limit, a missing database path, or a group with no
// channel patterns is a fatal configuration error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
	}

	order, err := groupOrder(path)
	if err != nil {
		return nil, fmt.Errorf("reading group order from %s: %w", path, err)
	}
	cfg.GroupOrder = order

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// groupOrder re-reads the document's raw bytes to recover the order
// object keys appeared in "groups", since both viper and a plain
// map[string]GroupConfig decode lose key order.
func groupOrder(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}
	groups, ok := top["groups"]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(groups))
	if tok, err := dec.Token(); err != nil {
		return nil, err
	} else if tok != json.Delim('{') {
		return nil, fmt.Errorf("\"groups\" must be a JSON object")
	}

	var order []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		order = append(order, tok.(string))

		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Validate checks the invariants required of a configuration document
// before it can be handed to the engine.
func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("configuration is missing required field %q", "database")
	}
	if len(c.Groups) == 0 {
		return fmt.Errorf("configuration must define at least one group")
	}

	for name, g := range c.Groups {
		if len(g.Channels) == 0 {
			return fmt.Errorf("group %q must list at least one channel pattern", name)
		}
		if g.Values < 0 {
			return fmt.Errorf("group %q: values must not be negative", name)
		}
		if g.ValuesTotal < 0 {
			return fmt.Errorf("group %q: values_total must not be negative", name)
		}
		if g.MinInterval < 0 {
			return fmt.Errorf("group %q: min_interval must not be negative", name)
		}
		if g.MinUnchangedInterval < 0 {
			return fmt.Errorf("group %q: min_unchanged_interval must not be negative", name)
		}
	}
	return nil
}
