package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Required fields
//   - Positive thresholds and windows on every enabled rule
//   - Coherent retry backoff bounds
//   - Known state backend and complete source settings
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	if cfg.Engine.EventWorkers < 1 {
		errs = append(errs, "engine.event_workers must be >= 1")
	}
	if cfg.Engine.QueueDepth < 1 {
		errs = append(errs, "engine.queue_depth must be >= 1")
	}

	d := cfg.Detection
	if d.CooldownMinutes < 0 {
		errs = append(errs, "detection.cooldown_minutes must not be negative")
	}
	if d.MaxRecipients < 1 {
		errs = append(errs, "detection.max_recipients must be >= 1")
	}

	r := d.Rules
	validateThreshold("auth_failure_spike", r.AuthFailureSpike, &errs)
	validateThreshold("permission_denied_spike", r.PermissionDeniedSpike, &errs)
	validateThreshold("offboarded_account_access", r.OffboardedAccountAccess, &errs)
	validateThreshold("privileged_role_assignment", r.PrivilegedRoleAssignment.ThresholdRule, &errs)
	validateThreshold("mass_export", r.MassExport, &errs)
	validateThreshold("unauthorized_record_view", r.UnauthorizedRecordView, &errs)
	if b := r.PotentialBreach; b.IsEnabled() {
		if b.ExportThreshold < 1 || b.ReadThreshold < 1 || b.DenialThreshold < 1 {
			errs = append(errs, "detection.rules.potential_breach: all thresholds must be >= 1")
		}
		if b.WindowMinutes < 1 {
			errs = append(errs, "detection.rules.potential_breach: window_minutes must be >= 1")
		}
	}

	rt := cfg.Retry
	if rt.BatchSize < 1 {
		errs = append(errs, "retry.batch_size must be >= 1")
	}
	if rt.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if rt.BaseBackoffSeconds < 1 {
		errs = append(errs, "retry.base_backoff_seconds must be >= 1")
	}
	if rt.MaxBackoffSeconds < rt.BaseBackoffSeconds {
		errs = append(errs, fmt.Sprintf("retry.max_backoff_seconds (%d) must be >= base_backoff_seconds (%d)", rt.MaxBackoffSeconds, rt.BaseBackoffSeconds))
	}

	switch cfg.State.Backend {
	case "memory":
	case "redis":
		if cfg.State.Redis.Addr == "" {
			errs = append(errs, "state.redis.addr is required when state.backend is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("state.backend %q is not one of memory, redis", cfg.State.Backend))
	}

	if k := cfg.Sources.Kafka; k.Enabled && (len(k.Brokers) == 0 || k.Topic == "") {
		errs = append(errs, "sources.kafka: brokers and topic are required when enabled")
	}
	if n := cfg.Sources.NATS; n.Enabled && (n.URL == "" || n.Subject == "") {
		errs = append(errs, "sources.nats: url and subject are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateThreshold(name string, r ThresholdRule, errs *[]string) {
	if !r.IsEnabled() {
		return
	}
	if r.Threshold < 1 {
		*errs = append(*errs, fmt.Sprintf("detection.rules.%s: threshold must be >= 1", name))
	}
	if r.WindowMinutes < 1 {
		*errs = append(*errs, fmt.Sprintf("detection.rules.%s: window_minutes must be >= 1", name))
	}
}
