package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	configFile                 = "config.toml"
	defaultListen              = ":8080"
	defaultLogLevel            = "info"
	defaultMaxBodyLen          = 256
	defaultRepublishRoutingKey = "#"
	defaultAuditLimit          = 100
)

// FileConfig is the TOML file structure.
type FileConfig struct {
	LogLevel string            `toml:"log_level"`
	Server   ServerConfig      `toml:"server"`
	Display  DisplayConfig     `toml:"display"`
	Audit    AuditConfig       `toml:"audit"`
	Binders  map[string]Binder `toml:"binders"`
	Queues   map[string]Queue  `toml:"queues"`

	// queueOrder keeps [queues.*] tables in document order.
	queueOrder []string
}

// ServerConfig holds the admin HTTP server settings.
type ServerConfig struct {
	Listen        string `toml:"listen"`
	MetricsListen string `toml:"metrics_listen"`
	Token         string `toml:"token"`
}

// DisplayConfig controls how messages are rendered.
type DisplayConfig struct {
	MaxBodyLen int    `toml:"max_body_len"`
	ProtoPath  string `toml:"proto_path"`
}

// AuditConfig controls the sqlite audit log of destructive operations.
type AuditConfig struct {
	Disabled bool   `toml:"disabled"`
	DBPath   string `toml:"db"`
	Limit    int    `toml:"limit"`
}

// Binder is a named broker connection.
type Binder struct {
	URL           string `toml:"url"`
	ManagementURL string `toml:"management_url"`
	Admin         string `toml:"admin"`
}

// Queue maps a logical queue id to its dead-letter and republish targets.
type Queue struct {
	ReadName            string `toml:"read_name"`
	ReadBinder          string `toml:"read_binder"`
	RepublishName       string `toml:"republish_name"`
	RepublishExchange   string `toml:"republish_exchange"`
	RepublishRoutingKey string `toml:"republish_routing_key"`
	RepublishBinder     string `toml:"republish_binder"`
}

// Config is the resolved runtime config.
type Config struct {
	LogLevel      string
	Listen        string
	MetricsListen string
	Token         string
	MaxBodyLen    int
	ProtoPath     string
	AuditEnabled  bool
	AuditDBPath   string
	AuditLimit    int

	Binders map[string]Binder
	Queues  map[string]Queue
	// QueueIDs lists queue ids in the order they appear in the file.
	QueueIDs []string
}

// LoadFileConfig loads config.toml from configDir.
// Returns a zero-value FileConfig (no error) if the file doesn't exist.
func LoadFileConfig(configDir string) (*FileConfig, error) {
	cfg, err := LoadFile(filepath.Join(configDir, configFile))
	if errors.Is(err, os.ErrNotExist) {
		return &FileConfig{}, nil
	}
	return cfg, err
}

// LoadFile loads a TOML config from an explicit path.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg FileConfig
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "queues" {
			cfg.queueOrder = append(cfg.queueOrder, key[1])
		}
	}
	return &cfg, nil
}

// Resolve applies defaults and env fallbacks and validates cross references.
func (fc FileConfig) Resolve() (Config, error) {
	cfg := Config{
		LogLevel:      fc.LogLevel,
		Listen:        fc.Server.Listen,
		MetricsListen: fc.Server.MetricsListen,
		Token:         fc.Server.Token,
		MaxBodyLen:    fc.Display.MaxBodyLen,
		ProtoPath:     fc.Display.ProtoPath,
		AuditEnabled:  !fc.Audit.Disabled,
		AuditDBPath:   fc.Audit.DBPath,
		AuditLimit:    fc.Audit.Limit,
		Binders:       make(map[string]Binder, len(fc.Binders)),
		Queues:        make(map[string]Queue, len(fc.Queues)),
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Listen == "" {
		cfg.Listen = defaultListen
	}
	if cfg.MaxBodyLen <= 0 {
		cfg.MaxBodyLen = defaultMaxBodyLen
	}
	if cfg.AuditLimit <= 0 {
		cfg.AuditLimit = defaultAuditLimit
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("BURROW_TOKEN")
	}

	var errs []error

	for name, b := range fc.Binders {
		// Fall back to env vars for URL if not set in the file
		if b.URL == "" {
			if u := os.Getenv("AMQP_URL"); u != "" {
				b.URL = u
			} else if u := os.Getenv("RABBITMQ_URL"); u != "" {
				b.URL = u
			}
		}
		if b.URL == "" {
			errs = append(errs, fmt.Errorf("binder %q: url is required", name))
		}
		switch b.Admin {
		case "":
			b.Admin = "amqp"
		case "amqp", "management":
		default:
			errs = append(errs, fmt.Errorf("binder %q: invalid admin %q (use: amqp|management)", name, b.Admin))
		}
		cfg.Binders[name] = b
	}

	for _, id := range fc.QueueIDs() {
		q := fc.Queues[id]
		if strings.TrimSpace(q.ReadName) == "" {
			errs = append(errs, fmt.Errorf("queue %q: read_name is required", id))
		}
		if _, ok := fc.Binders[q.ReadBinder]; !ok {
			errs = append(errs, fmt.Errorf("queue %q: unknown read_binder %q", id, q.ReadBinder))
		}
		if q.RepublishBinder == "" {
			q.RepublishBinder = q.ReadBinder
		} else if _, ok := fc.Binders[q.RepublishBinder]; !ok {
			errs = append(errs, fmt.Errorf("queue %q: unknown republish_binder %q", id, q.RepublishBinder))
		}
		if q.RepublishRoutingKey == "" {
			q.RepublishRoutingKey = defaultRepublishRoutingKey
		}
		if q.RepublishName == "" && q.RepublishExchange == "" {
			errs = append(errs, fmt.Errorf("queue %q: republish_name or republish_exchange is required", id))
		}
		cfg.Queues[id] = q
		cfg.QueueIDs = append(cfg.QueueIDs, id)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// QueueIDs returns the queue ids in document order. Queues added to Queues
// programmatically come last, sorted.
func (fc FileConfig) QueueIDs() []string {
	ids := make([]string, 0, len(fc.Queues))
	seen := make(map[string]bool, len(fc.Queues))
	for _, id := range fc.queueOrder {
		if _, ok := fc.Queues[id]; ok && !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}

	var rest []string
	for id := range fc.Queues {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}
