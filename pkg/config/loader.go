package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoaderOptions configures the config loader.
type LoaderOptions struct {
	// Path to the YAML config file. Empty enables zero-config mode.
	Path string

	// Watch re-loads the file on change and invokes OnChange.
	Watch bool

	// OnChange receives the re-validated config after a file change.
	// Returning an error keeps the previous config active.
	OnChange func(*Config) error
}

// Loader loads configuration from defaults, an optional YAML file, and
// KOKORO_-prefixed environment variables, in that precedence order.
type Loader struct {
	koanf    *koanf.Koanf
	options  LoaderOptions
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

func NewLoader(opts LoaderOptions) *Loader {
	return &Loader{
		koanf:    koanf.New("."),
		options:  opts,
		stopChan: make(chan struct{}),
	}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	l.koanf = koanf.New(".")

	if err := l.koanf.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if l.options.Path != "" {
		if err := l.koanf.Load(file.Provider(l.options.Path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", l.options.Path, err)
		}
	}

	// KOKORO_SERVER_PORT=9090 maps to server.port. Double underscore
	// separates words inside one key segment.
	envProvider := env.Provider("KOKORO_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "KOKORO_"))
		key = strings.ReplaceAll(key, "__", "-")
		key = strings.ReplaceAll(key, "_", ".")
		return strings.ReplaceAll(key, "-", "_")
	})
	if err := l.koanf.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := l.koanf.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// StartWatch begins watching the config file for changes. No-op unless
// Watch was requested and a file path is set.
func (l *Loader) StartWatch() error {
	if !l.options.Watch || l.options.Path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	l.watcher = watcher

	// Watch the directory; editors replace files rather than write them.
	dir := filepath.Dir(l.options.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	var debounce *time.Timer
	target := filepath.Clean(l.options.Path)

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)

		case <-l.stopChan:
			return
		}
	}
}

func (l *Loader) reload() {
	cfg, err := l.Load()
	if err != nil {
		slog.Error("Config reload failed, keeping previous config", "error", err)
		return
	}
	if l.options.OnChange != nil {
		if err := l.options.OnChange(cfg); err != nil {
			slog.Error("Config change rejected", "error", err)
			return
		}
	}
	slog.Info("Configuration reloaded", "path", l.options.Path)
}

// Stop terminates the watch loop.
func (l *Loader) Stop() {
	close(l.stopChan)
	if l.watcher != nil {
		l.watcher.Close()
	}
}

func defaultsMap() map[string]any {
	return map[string]any{
		"server.host":   "0.0.0.0",
		"server.port":   8080,
		"logging.level": "info",
	}
}
