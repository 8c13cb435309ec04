package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields lists the offending field names in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ErrInvalidConfig matches any ValidationErrors through errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// Is reports whether target is ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateChallenge(&c.Challenge)...)
	errs = append(errs, validateGate(&c.Gate)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateTracing(&c.Tracing)...)
	errs = append(errs, validateWatch(&c.Watch)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateChallenge(cc *ChallengeConfig) ValidationErrors {
	var errs ValidationErrors

	if cc.DecoyCount < 0 {
		errs = append(errs, ValidationError{
			Field:   "challenge.decoy_count",
			Message: "decoy count cannot be negative",
		})
	}
	if cc.CooldownMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "challenge.cooldown_ms",
			Message: "cooldown cannot be negative",
		})
	}
	if cc.Viewport.W <= 0 || cc.Viewport.H <= 0 {
		errs = append(errs, ValidationError{
			Field:   "challenge.viewport",
			Message: "viewport must have a positive size",
		})
	}
	if cc.DropZone.W <= 0 || cc.DropZone.H <= 0 {
		errs = append(errs, ValidationError{
			Field:   "challenge.drop_zone",
			Message: "drop zone must have a positive size",
		})
	}
	if cc.EdgePadding < 0 || cc.Clearance < 0 {
		errs = append(errs, ValidationError{
			Field:   "challenge.edge_padding",
			Message: "padding and clearance cannot be negative",
		})
	}
	if 2*cc.EdgePadding >= cc.Viewport.W || 2*cc.EdgePadding >= cc.Viewport.H {
		errs = append(errs, ValidationError{
			Field:   "challenge.edge_padding",
			Message: "padding leaves no room in the viewport",
		})
	}
	if cc.MaxPlacementAttempts < 1 {
		errs = append(errs, ValidationError{
			Field:   "challenge.max_placement_attempts",
			Message: "must allow at least one placement attempt",
		})
	}

	return errs
}

func validateGate(g *GateConfig) ValidationErrors {
	var errs ValidationErrors

	if g.MinSearchTimeSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "gate.min_search_time_sec",
			Message: "minimum search time cannot be negative",
		})
	}
	if g.MinSamples < 1 {
		errs = append(errs, ValidationError{
			Field:   "gate.min_samples",
			Message: "at least one sample is required",
		})
	}
	if g.VelocityChangeLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "gate.velocity_change_limit",
			Message: "velocity change limit must be positive",
		})
	}
	if g.AccuracyBaseline < 0 || g.AccuracyBaseline > 100 {
		errs = append(errs, *RangeError("gate.accuracy_baseline", 0, 100))
	}
	if g.FastSearchLimitSec < g.MinSearchTimeSec {
		errs = append(errs, ValidationError{
			Field:   "gate.fast_search_limit_sec",
			Message: "fast search limit must not be below the minimum search time",
		})
	}
	if g.SlowSearchPenalty < 0 {
		errs = append(errs, ValidationError{
			Field:   "gate.slow_search_penalty",
			Message: "penalty cannot be negative",
		})
	}
	if g.TimeWeight < 0 || g.AccuracyWeight < 0 || g.TimeWeight+g.AccuracyWeight == 0 {
		errs = append(errs, ValidationError{
			Field:   "gate.time_weight",
			Message: "weights must be non-negative and not both zero",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case "sqlite":
		if s.Path == "" {
			errs = append(errs, *RequiredFieldError("storage.path"))
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, memory)", s.Type),
		})
	}

	if s.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "storage.max_connections",
			Message: "at least one connection is required",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors
	if m.Enabled {
		if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen_addr",
				Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
			})
		}
	}
	return errs
}

func validateTracing(t *TracingConfig) ValidationErrors {
	var errs ValidationErrors
	if t.Enabled && t.Endpoint == "" {
		errs = append(errs, *RequiredFieldError("tracing.endpoint"))
	}
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, *RangeError("tracing.sample_ratio", 0, 1))
	}
	return errs
}

func validateWatch(w *WatchConfig) ValidationErrors {
	var errs ValidationErrors

	if w.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Message: "debounce cannot be negative",
		})
	}
	if w.DebounceMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "watch.debounce_ms",
			Message: "debounce cannot exceed 60000ms (1 minute)",
		})
	}
	if w.MaxFileSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "watch.max_file_size",
			Message: "max file size cannot be negative",
		})
	}
	for i, pattern := range w.IncludePatterns {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("watch.include_patterns[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %s", pattern),
			})
		}
	}

	return errs
}

func isValidGlobPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := filepath.Match(pattern, "test")
	return err == nil
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
