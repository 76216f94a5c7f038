package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/luthierworks/luthier/internal/errors"
	"github.com/luthierworks/luthier/internal/logging"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading and hot-reloading
type Loader struct {
	path     string
	mu       sync.RWMutex
	config   *Config
	lastMod  time.Time
	onChange func(*Config)
	logger   *logging.Logger
}

// NewLoader creates a new configuration loader
func NewLoader(path string) *Loader {
	return &Loader{
		path:   path,
		logger: logging.NewLogger(),
	}
}

// SetLogger replaces the loader's logger.
func (l *Loader) SetLogger(logger *logging.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration from the file
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.ErrConfigNotFound{Path: l.path}
		}
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	content, err := os.ReadFile(l.path)
	if err != nil {
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}

	config, err := Parse(substituteEnvVars(content))
	if err != nil {
		return nil, err
	}

	l.config = config
	l.lastMod = info.ModTime()

	return config, nil
}

// Reload re-reads the file and notifies the onChange callback.
func (l *Loader) Reload() (*Config, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	onChange := l.onChange
	l.mu.RUnlock()

	if onChange != nil {
		onChange(config)
	}

	return config, nil
}

// Get returns the current configuration
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// SetOnChange sets a callback to be called when configuration changes
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Watch reloads the config whenever the file changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up too.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(l.path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Chmod) {
					l.checkFileChange()
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "error", werr.Error())
			}
		}
	}()

	return nil
}

func (l *Loader) checkFileChange() {
	info, err := os.Stat(l.path)
	if err != nil {
		return
	}

	l.mu.RLock()
	lastMod := l.lastMod
	l.mu.RUnlock()

	if !info.ModTime().After(lastMod) {
		return
	}
	if _, err := l.Reload(); err != nil {
		l.logger.Error("config reload failed", "path", l.path, "error", err.Error())
		return
	}
	l.logger.Info("config reloaded", "path", l.path)
}

// ConfigPathEnv overrides the default config file location.
const ConfigPathEnv = "LUTHIER_CONFIG_PATH"

// PathFromEnv returns $LUTHIER_CONFIG_PATH, or config.yaml when unset.
func PathFromEnv() string {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return path
	}
	return "config.yaml"
}

// LoadFromEnv loads configuration from PathFromEnv. The loader is returned
// even on error so callers can report its path or fall back to defaults.
func LoadFromEnv() (*Loader, *Config, error) {
	loader := NewLoader(PathFromEnv())
	cfg, err := loader.Load()
	return loader, cfg, err
}

// Parse parses configuration from byte slice
func Parse(data []byte) (*Config, error) {
	config := Default()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}

	if err := config.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}

	return config, nil
}

// Default returns a config with every default applied, usable without a file.
func Default() *Config {
	config := &Config{Version: "1"}
	config.Server.Host = "127.0.0.1"
	config.Server.HTTPPort = 8320
	config.Server.ShutdownTimeout = 30 * time.Second
	config.Server.LogLevel = "info"
	config.Server.DBPath = "luthier.db"
	_ = config.Validate()
	return config
}

func substituteEnvVars(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}
