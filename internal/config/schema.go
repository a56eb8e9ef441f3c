package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	Log       LogConf       `yaml:"log"`
	Engine    EngineConf    `yaml:"engine"`
	Detection DetectionConf `yaml:"detection"`
	Retry     RetryConf     `yaml:"retry"`
	State     StateConf     `yaml:"state"`
	Storage   StorageConf   `yaml:"storage"`
	Alerting  AlertingConf  `yaml:"alerting"`
	Sources   SourcesConf   `yaml:"sources"`
}

// LogConf selects the slog handler.
type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	EventWorkers   int `yaml:"event_workers"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
}

// DetectionConf configures the rule pipeline and consolidation.
type DetectionConf struct {
	SystemActor     string    `yaml:"system_actor"`
	BaseURL         string    `yaml:"base_url"`
	CooldownMinutes int       `yaml:"cooldown_minutes"`
	MaxRecipients   int       `yaml:"max_recipients"`
	IncidentModule  string    `yaml:"incident_module"`
	Rules           RulesConf `yaml:"rules"`
}

// Cooldown returns the cooldown duration.
func (d DetectionConf) Cooldown() time.Duration {
	return time.Duration(d.CooldownMinutes) * time.Minute
}

// RulesConf holds per-detector thresholds.
type RulesConf struct {
	AuthFailureSpike         ThresholdRule    `yaml:"auth_failure_spike"`
	PermissionDeniedSpike    ThresholdRule    `yaml:"permission_denied_spike"`
	OffboardedAccountAccess  ThresholdRule    `yaml:"offboarded_account_access"`
	PrivilegedRoleAssignment RoleRule         `yaml:"privileged_role_assignment"`
	MassExport               ThresholdRule    `yaml:"mass_export"`
	UnauthorizedRecordView   ThresholdRule    `yaml:"unauthorized_record_view"`
	PotentialBreach          BreachSignalRule `yaml:"potential_breach"`
}

// ThresholdRule is a single-counter detector setting. Enabled is a pointer so
// an omitted key defaults to true.
type ThresholdRule struct {
	Enabled       *bool `yaml:"enabled"`
	Threshold     int   `yaml:"threshold"`
	WindowMinutes int   `yaml:"window_minutes"`
}

// IsEnabled reports whether the rule is on (default true).
func (r ThresholdRule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Window returns the window duration.
func (r ThresholdRule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// RoleRule extends ThresholdRule with the privileged role set.
type RoleRule struct {
	ThresholdRule   `yaml:",inline"`
	PrivilegedRoles []string `yaml:"privileged_roles"`
}

// BreachSignalRule configures the composite three-counter detector.
type BreachSignalRule struct {
	Enabled         *bool `yaml:"enabled"`
	ExportThreshold int   `yaml:"export_threshold"`
	ReadThreshold   int   `yaml:"read_threshold"`
	DenialThreshold int   `yaml:"denial_threshold"`
	WindowMinutes   int   `yaml:"window_minutes"`
}

// IsEnabled reports whether the rule is on (default true).
func (r BreachSignalRule) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// Window returns the window duration.
func (r BreachSignalRule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// RetryConf configures the durable retry queue.
type RetryConf struct {
	Enabled            *bool  `yaml:"enabled"`
	BatchSize          int    `yaml:"batch_size"`
	MaxAttempts        int    `yaml:"max_attempts"`
	BaseBackoffSeconds int    `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds  int    `yaml:"max_backoff_seconds"`
	DrainSchedule      string `yaml:"drain_schedule"` // cron spec, e.g. "@every 1m"; empty disables
}

// IsEnabled reports whether failed workflows are queued (default true).
func (r RetryConf) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }

// BaseBackoff returns the first retry delay.
func (r RetryConf) BaseBackoff() time.Duration {
	return time.Duration(r.BaseBackoffSeconds) * time.Second
}

// MaxBackoff returns the retry delay ceiling.
func (r RetryConf) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffSeconds) * time.Second
}

// StateConf selects where counters and cooldowns live.
type StateConf struct {
	Backend string    `yaml:"backend"` // memory | redis
	Redis   RedisConf `yaml:"redis"`
}

// RedisConf holds the shared state connection settings.
type RedisConf struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConf locates the durable SQLite database.
type StorageConf struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// AlertingConf configures alert recipients and channels.
type AlertingConf struct {
	Recipients       []string `yaml:"recipients"`
	WebhookURL       string   `yaml:"webhook_url"`
	WebhookTimeoutMs int      `yaml:"webhook_timeout_ms"`
}

// SourcesConf configures optional audit-event consumers.
type SourcesConf struct {
	Kafka KafkaConf `yaml:"kafka"`
	NATS  NATSConf  `yaml:"nats"`
}

// KafkaConf configures the Kafka audit-event consumer.
type KafkaConf struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// NATSConf configures the NATS audit-event subscriber.
type NATSConf struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}
