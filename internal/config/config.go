package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/codefionn/tcpchat/internal/consts"
)

const appName = "tcpchat"

// Environment variables that override file values.
const (
	EnvListen   = "TCPCHAT_LISTEN"
	EnvServer   = "TCPCHAT_SERVER"
	EnvNick     = "TCPCHAT_NICK"
	EnvLogLevel = "TCPCHAT_LOG_LEVEL"
	EnvLogPath  = "TCPCHAT_LOG_PATH"
	EnvKeySize  = "TCPCHAT_KEY_SIZE"
)

// ServerConfig configures tcpchat-server.
type ServerConfig struct {
	Listen          string  `json:"listen"`
	WebSocketListen string  `json:"websocket_listen,omitempty"`
	WebSocketPath   string  `json:"websocket_path,omitempty"`
	KeySize         int     `json:"key_size"`
	MaxConnections  int     `json:"max_connections"`
	MaxFrameSize    int     `json:"max_frame_size"`
	CommandRate     float64 `json:"command_rate"`
	CommandBurst    int     `json:"command_burst"`
	LogLevel        string  `json:"log_level"`
	LogPath         string  `json:"log_path"`
	PIDFile         string  `json:"pid_file,omitempty"`
	DebugListen     string  `json:"debug_listen,omitempty"`
}

// ClientConfig configures the tcpchat terminal client.
type ClientConfig struct {
	Server   string `json:"server"`
	Nick     string `json:"nick,omitempty"`
	Color    string `json:"color,omitempty"`
	KeySize  int    `json:"key_size"`
	NoColor  bool   `json:"no_color,omitempty"`
	LogLevel string `json:"log_level"`
	LogPath  string `json:"log_path"`
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appName)
		}
	}
	if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
		return filepath.Join(configHome, appName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", appName)
}

func defaultStateDir() string {
	if runtime.GOOS == "windows" {
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
	}
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, appName)
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "state", appName)
}

// DefaultServerConfig returns the built-in server settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Listen:         ":4422",
		WebSocketPath:  "/ws",
		KeySize:        consts.DefaultKeySize,
		MaxConnections: 1024,
		MaxFrameSize:   consts.MaxFrameSize,
		CommandRate:    consts.DefaultCommandRate,
		CommandBurst:   consts.DefaultCommandBurst,
		LogLevel:       "info",
		LogPath:        filepath.Join(defaultStateDir(), "server.log"),
		PIDFile:        filepath.Join(defaultStateDir(), "server.pid"),
	}
}

// DefaultClientConfig returns the built-in client settings.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Server:   "127.0.0.1:4422",
		KeySize:  consts.DefaultKeySize,
		LogLevel: "warn",
		LogPath:  filepath.Join(defaultStateDir(), "client.log"),
	}
}

// ServerConfigPath returns the default server config location.
func ServerConfigPath() string {
	return filepath.Join(defaultConfigDir(), "server.json")
}

// ClientConfigPath returns the default client config location.
func ClientConfigPath() string {
	return filepath.Join(defaultConfigDir(), "client.json")
}

// readInto overlays the JSON file at path onto v. A missing file is not an error.
func readInto(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadServer reads the server config, applies environment overrides and
// fills anything still empty with defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := readInto(path, cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	applyLogEnv(&cfg.LogLevel, &cfg.LogPath)
	if err := applyKeySizeEnv(&cfg.KeySize); err != nil {
		return nil, err
	}

	defaults := DefaultServerConfig()
	if cfg.Listen == "" {
		cfg.Listen = defaults.Listen
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = defaults.WebSocketPath
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaults.MaxFrameSize
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaults.MaxConnections
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = defaults.CommandBurst
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c *ServerConfig) Validate() error {
	if c.KeySize < consts.MinKeySize {
		return fmt.Errorf("key_size %d is below %d", c.KeySize, consts.MinKeySize)
	}
	if c.CommandRate < 0 {
		return fmt.Errorf("command_rate must not be negative")
	}
	return nil
}

// LoadClient reads the client config the same way LoadServer does.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := readInto(path, cfg); err != nil {
		return nil, err
	}
	if v := os.Getenv(EnvServer); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv(EnvNick); v != "" {
		cfg.Nick = v
	}
	applyLogEnv(&cfg.LogLevel, &cfg.LogPath)
	if err := applyKeySizeEnv(&cfg.KeySize); err != nil {
		return nil, err
	}

	if cfg.Server == "" {
		cfg.Server = DefaultClientConfig().Server
	}
	if cfg.KeySize < consts.MinKeySize {
		return nil, fmt.Errorf("key_size %d is below %d", cfg.KeySize, consts.MinKeySize)
	}
	return cfg, nil
}

func applyLogEnv(level, path *string) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		*level = v
	}
	if v := os.Getenv(EnvLogPath); v != "" {
		*path = v
	}
}

func applyKeySizeEnv(size *int) error {
	v := os.Getenv(EnvKeySize)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", EnvKeySize, err)
	}
	*size = n
	return nil
}

// save writes v as indented JSON, creating the directory.
func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Save saves the server configuration to path.
func (c *ServerConfig) Save(path string) error { return save(path, c) }

// Save saves the client configuration to path.
func (c *ClientConfig) Save(path string) error { return save(path, c) }
