package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	config *Config
	path   string
	once   sync.Once
	mu     sync.Mutex
	v      *viper.Viper
)

// Config represents the configuration implementation.
type Config struct {
	AppName  string
	RunMode  string
	Registry *Registry
	Trust    *Trust
	Monitor  *Monitor
	Sandbox  *Sandbox
	IPC      *IPC
	Logger   *Logger
	Viper    *viper.Viper
}

func init() {
	flag.StringVar(&path, "conf", "", "e.g: bin ./warden.yaml")
	v = viper.New()
}

// Init initializes and loads the configuration.
func Init() (cfg *Config, err error) {
	once.Do(func() {
		cfg, err = loadConfiguration()
	})
	return cfg, err
}

// GetConfig returns the configuration.
// It does not handle errors internally; instead, it returns the error for the caller to handle.
func GetConfig() (*Config, error) {
	if config == nil {
		var err error
		config, err = Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize config: %w", err)
		}
	}
	return config, nil
}

// loadConfiguration loads the configuration from the file and sets it globally.
func loadConfiguration() (*Config, error) {
	flag.Parse()
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	config = cfg
	return cfg, nil
}

// LoadConfig loads the configuration from the file.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		ex, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		v.SetConfigName("warden")
		v.AddConfigPath("/etc/warden")
		v.AddConfigPath("$HOME/.warden")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(ex))
	}

	v.SetEnvPrefix("warden")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file falls back to defaults and environment variables.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		AppName:  getStringOrDefault(v, "app_name", "warden"),
		RunMode:  getStringOrDefault(v, "run_mode", "release"),
		Registry: getRegistryConfig(v),
		Trust:    getTrustConfig(v),
		Monitor:  getMonitorConfig(v),
		Sandbox:  getSandboxConfig(v),
		IPC:      getIPCConfig(v),
		Logger:   getLoggerConfig(v),
		Viper:    v,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every section for consistent values.
func (c *Config) Validate() error {
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}
	if err := c.IPC.Validate(); err != nil {
		return fmt.Errorf("ipc config: %w", err)
	}
	if err := c.Trust.Validate(); err != nil {
		return fmt.Errorf("trust config: %w", err)
	}
	return nil
}

// Reload reloads the configuration from the file.
func Reload() error {
	mu.Lock()
	defer mu.Unlock()

	newConfig, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	config = newConfig
	return nil
}

// Watch watches the configuration file and reloads it when it changes.
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := Reload(); err != nil {
			fmt.Printf("Error reloading config: %v\n", err)
			return
		}
		callback(config)
	})
}
