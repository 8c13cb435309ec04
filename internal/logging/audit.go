package logging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventStartup      AuditEventType = "startup"
	AuditEventShutdown     AuditEventType = "shutdown"
	AuditEventConfigChange AuditEventType = "config_change"
	AuditEventReplay       AuditEventType = "replay"
	AuditEventVerification AuditEventType = "verification"
	AuditEventReset        AuditEventType = "reset"
	AuditEventError        AuditEventType = "error"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Action    string         `json:"action"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditLogger appends JSON audit events to a rotated file. It never
// records tokens or raw pointer data.
type AuditLogger struct {
	component string
	rotator   *FileRotator
	mu        sync.Mutex
	now       func() time.Time
}

// NewAuditLogger opens an audit trail at cfg.FilePath.
func NewAuditLogger(cfg RotatorConfig, component string) (*AuditLogger, error) {
	rotator, err := NewFileRotator(cfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}
	if component == "" {
		component = "dragcheck"
	}
	return &AuditLogger{component: component, rotator: rotator, now: time.Now}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.component
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogStartup records process start.
func (a *AuditLogger) LogStartup(version string, details map[string]any) error {
	return a.Log(AuditEvent{
		EventType: AuditEventStartup,
		Action:    "start",
		Result:    "success",
		Details:   merge(details, map[string]any{"version": version}),
	})
}

// LogShutdown records process exit.
func (a *AuditLogger) LogShutdown(reason string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "stop",
		Result:    "success",
		Details:   map[string]any{"reason": reason},
	})
}

// LogConfigChange records a hot reload.
func (a *AuditLogger) LogConfigChange(path string) error {
	return a.Log(AuditEvent{
		EventType: AuditEventConfigChange,
		Source:    path,
		Action:    "reload",
		Result:    "success",
	})
}

// LogReplay records the replay of one recording.
func (a *AuditLogger) LogReplay(source, digest string, err error) error {
	ev := AuditEvent{
		EventType: AuditEventReplay,
		Source:    source,
		Action:    "replay",
		Result:    "success",
		Details:   map[string]any{"digest": digest},
	}
	if err != nil {
		ev.Result = "failure"
		ev.Error = err.Error()
	}
	return a.Log(ev)
}

// LogVerification records a verification outcome. reasons are the gate
// flags, empty when accepted.
func (a *AuditLogger) LogVerification(attemptID, outcome string, reasons []string) error {
	ev := AuditEvent{
		EventType: AuditEventVerification,
		AttemptID: attemptID,
		Action:    "verify",
		Result:    outcome,
	}
	if len(reasons) > 0 {
		ev.Details = map[string]any{"reasons": reasons}
	}
	return a.Log(ev)
}

// LogReset records an attempt reset or restart.
func (a *AuditLogger) LogReset(attemptID string, restart bool) error {
	action := "reset"
	if restart {
		action = "restart"
	}
	return a.Log(AuditEvent{
		EventType: AuditEventReset,
		AttemptID: attemptID,
		Action:    action,
		Result:    "success",
	})
}

// LogError records an operational failure.
func (a *AuditLogger) LogError(operation string, err error) error {
	return a.Log(AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
	})
}

// Rotate rolls the audit file over and returns the files now on disk.
func (a *AuditLogger) Rotate() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.rotator.Rotate(); err != nil {
		return nil, err
	}
	return a.rotator.LogFiles(), nil
}

// Close flushes and closes the audit file.
func (a *AuditLogger) Close() error {
	return a.rotator.Close()
}

func merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
