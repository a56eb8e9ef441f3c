package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						slog.Warn("config reload failed, keeping previous config", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "path", l.path, "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	return cfg, nil
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", l.path, err)
	}
	return cfg, nil
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{Version: "v1"}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if cfg.Engine.EventWorkers == 0 {
		cfg.Engine.EventWorkers = 8
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 1000
	}
	if cfg.Engine.EventTimeoutMs == 0 {
		cfg.Engine.EventTimeoutMs = 5000
	}

	d := &cfg.Detection
	if d.SystemActor == "" {
		d.SystemActor = "security-automation@hrguard.local"
	}
	if d.CooldownMinutes == 0 {
		d.CooldownMinutes = 30
	}
	if d.MaxRecipients == 0 {
		d.MaxRecipients = 10
	}
	if d.IncidentModule == "" {
		d.IncidentModule = "security_incidents"
	}

	r := &d.Rules
	thresholdDefaults(&r.AuthFailureSpike, 5, 10)
	thresholdDefaults(&r.PermissionDeniedSpike, 3, 15)
	thresholdDefaults(&r.OffboardedAccountAccess, 2, 30)
	thresholdDefaults(&r.PrivilegedRoleAssignment.ThresholdRule, 2, 60)
	if len(r.PrivilegedRoleAssignment.PrivilegedRoles) == 0 {
		r.PrivilegedRoleAssignment.PrivilegedRoles = []string{"admin", "super_admin", "hr_admin", "security_admin", "payroll_admin"}
	}
	thresholdDefaults(&r.MassExport, 4, 20)
	thresholdDefaults(&r.UnauthorizedRecordView, 12, 15)
	b := &r.PotentialBreach
	if b.ExportThreshold == 0 {
		b.ExportThreshold = 2
	}
	if b.ReadThreshold == 0 {
		b.ReadThreshold = 6
	}
	if b.DenialThreshold == 0 {
		b.DenialThreshold = 2
	}
	if b.WindowMinutes == 0 {
		b.WindowMinutes = 30
	}

	rt := &cfg.Retry
	if rt.BatchSize == 0 {
		rt.BatchSize = 25
	}
	if rt.MaxAttempts == 0 {
		rt.MaxAttempts = 5
	}
	if rt.BaseBackoffSeconds == 0 {
		rt.BaseBackoffSeconds = 30
	}
	if rt.MaxBackoffSeconds == 0 {
		rt.MaxBackoffSeconds = 1800
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = "memory"
	}
	if cfg.State.Redis.KeyPrefix == "" {
		cfg.State.Redis.KeyPrefix = "hrguard:"
	}

	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/hrguard.db"
	}

	if cfg.Alerting.WebhookTimeoutMs == 0 {
		cfg.Alerting.WebhookTimeoutMs = 5000
	}

	if cfg.Sources.Kafka.GroupID == "" {
		cfg.Sources.Kafka.GroupID = "hrguard"
	}
	if cfg.Sources.NATS.Queue == "" {
		cfg.Sources.NATS.Queue = "hrguard"
	}
}

func thresholdDefaults(r *ThresholdRule, threshold, windowMinutes int) {
	if r.Threshold == 0 {
		r.Threshold = threshold
	}
	if r.WindowMinutes == 0 {
		r.WindowMinutes = windowMinutes
	}
}
