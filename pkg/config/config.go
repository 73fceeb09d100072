// Package config loads server configuration from a YAML file, applies
// PARLEY_* environment overrides on top, and finally lets command-line
// flags win over both.
package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds listener settings. UnixSocket, when set, replaces
// the TCP listener entirely.
type ServerConfig struct {
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	UnixSocket string `yaml:"unix_socket"`
	StaticDir  string `yaml:"static_dir"`
}

// StorageConfig holds the database location. An empty path selects an
// in-memory database, which does not survive restarts.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// SessionConfig tunes per-connection behavior.
type SessionConfig struct {
	// EventBuffer is the per-session delivery channel depth.
	EventBuffer int `yaml:"event_buffer"`
	// Workers and QueueDepth size the shared store-access pool.
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
	// RPS and Burst bound inbound frames per session.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// LoggingConfig selects log verbosity and sink.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Sink  string `yaml:"sink"` // stderr|stdout|<file path>
}

// Addr returns host:port for the TCP listener.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses the YAML config at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flags holds parsed command-line flag values and which were explicitly set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseCommandFlags defines and parses the server's command-line flags.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "listen address (host:port or uds:/path)")
	dbPtr := flag.String("db", "", "Pebble DB path (empty for in-memory)")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// ApplyEnvOverrides applies environment overrides onto cfg and reports
// whether any were used.
func ApplyEnvOverrides(cfg *Config) bool {
	envUsed := false
	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		envUsed = true
		applyAddr(cfg, v)
	} else {
		if host := os.Getenv("PARLEY_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("PARLEY_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("PARLEY_UNIX_SOCKET"); v != "" {
		envUsed = true
		cfg.Server.UnixSocket = v
	}
	if v := os.Getenv("PARLEY_STATIC_DIR"); v != "" {
		envUsed = true
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PARLEY_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Session.EventBuffer = n
		}
	}
	if v := os.Getenv("PARLEY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Session.RPS = f
		}
	}
	if v := os.Getenv("PARLEY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Session.Burst = n
		}
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PARLEY_LOG_SINK"); v != "" {
		envUsed = true
		cfg.Logging.Sink = v
	}
	return envUsed
}

// applyAddr accepts either host:port or a bare host, or a uds:/path
// unix-socket form.
func applyAddr(cfg *Config, v string) {
	if p, ok := strings.CutPrefix(v, "uds:"); ok {
		cfg.Server.UnixSocket = p
		return
	}
	if h, p, err := net.SplitHostPort(v); err == nil {
		cfg.Server.Address = h
		if pi, err := strconv.Atoi(p); err == nil {
			cfg.Server.Port = pi
		}
		return
	}
	cfg.Server.Address = v
}

// LoadEffective loads the config file (missing file is not fatal, the
// zero config stands in), applies env overrides, then flag overrides.
func LoadEffective(fl Flags) *Config {
	path := fl.Config
	if !fl.Set["config"] {
		if p := os.Getenv("PARLEY_CONFIG"); p != "" {
			path = p
		}
	}
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	ApplyEnvOverrides(cfg)
	if fl.Set["addr"] {
		applyAddr(cfg, fl.Addr)
	}
	if fl.Set["db"] {
		cfg.Storage.DBPath = fl.DB
	}
	return cfg
}
