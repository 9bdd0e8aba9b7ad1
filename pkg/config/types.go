package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent matchbot configuration stored as
// config.toml in the .matchbot/ directory. The TOML layout uses sections for
// logical grouping. The API key is deliberately absent: it lives in
// credentials.toml.
type Config struct {
	Version int          `toml:"version"`
	Chat    ChatConfig   `toml:"chat"`
	Relay   RelayConfig  `toml:"relay"`
	Events  EventsConfig `toml:"events"`
}

// ChatConfig holds settings for the chat client.
type ChatConfig struct {
	// URL is the platform base URL, e.g. https://<project>.supabase.co.
	URL      string `toml:"url,omitempty"`
	Function string `toml:"function,omitempty"`
	Timeout  string `toml:"timeout,omitempty"`
	ReadSize uint   `toml:"read_size,omitempty"`
}

// TimeoutDuration parses Timeout. An empty value means no override.
func (c ChatConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid chat.timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// RelayConfig holds settings for the streaming relay server.
type RelayConfig struct {
	Listen   string `toml:"listen,omitempty"`
	Upstream string `toml:"upstream,omitempty"`
	LogFile  string `toml:"log_file,omitempty"`
}

// EventsConfig holds exchange telemetry publishing settings.
type EventsConfig struct {
	// Provider is "none" or "kafka".
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated list of host:port pairs.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// BrokerList splits Brokers, dropping empty entries.
func (e EventsConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"chat.url": {
		get: func(c *Config) string { return c.Chat.URL },
		set: func(c *Config, v string) error { c.Chat.URL = v; return nil },
	},
	"chat.function": {
		get: func(c *Config) string { return c.Chat.Function },
		set: func(c *Config, v string) error { c.Chat.Function = v; return nil },
	},
	"chat.timeout": {
		get: func(c *Config) string { return c.Chat.Timeout },
		set: func(c *Config, v string) error {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for chat.timeout: %w", err)
			}
			c.Chat.Timeout = v
			return nil
		},
	},
	"chat.read_size": {
		get: func(c *Config) string {
			if c.Chat.ReadSize == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Chat.ReadSize), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid value for chat.read_size: %w", err)
			}
			c.Chat.ReadSize = uint(n)
			return nil
		},
	},
	"relay.listen": {
		get: func(c *Config) string { return c.Relay.Listen },
		set: func(c *Config, v string) error { c.Relay.Listen = v; return nil },
	},
	"relay.upstream": {
		get: func(c *Config) string { return c.Relay.Upstream },
		set: func(c *Config, v string) error { c.Relay.Upstream = v; return nil },
	},
	"relay.log_file": {
		get: func(c *Config) string { return c.Relay.LogFile },
		set: func(c *Config, v string) error { c.Relay.LogFile = v; return nil },
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case EventsProviderNone, EventsProviderKafka:
				c.Events.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for events.provider: %q (available: none, kafka)", v)
			}
		},
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
}
