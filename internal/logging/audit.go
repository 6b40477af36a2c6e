// Package logging also provides audit logging that outputs Mangle-queryable
// facts. Audit events are JSON lines carrying a pre-formatted Datalog fact so
// governance history can be queried declaratively after the fact.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Cycle lifecycle events -> cycle_event/4
	AuditCycleStart    AuditEventType = "cycle_start"
	AuditCycleComplete AuditEventType = "cycle_complete"
	AuditCycleAbort    AuditEventType = "cycle_abort"

	// Sandbox events -> sandbox_run/6
	AuditSandboxRun     AuditEventType = "sandbox_run"
	AuditSandboxTimeout AuditEventType = "sandbox_timeout"
	AuditSandboxLaunch  AuditEventType = "sandbox_launch_failure"

	// Ledger events -> certification/6, kernel_version/4
	AuditCertify       AuditEventType = "certify"
	AuditDecertify     AuditEventType = "decertify"
	AuditSnapshot      AuditEventType = "snapshot"
	AuditRollback      AuditEventType = "rollback"
	AuditIdentityDrift AuditEventType = "identity_drift"

	// Sentinel events -> phase_event/5
	AuditPhaseTransition AuditEventType = "phase_transition"
	AuditPhaseHold       AuditEventType = "phase_hold"
	AuditSentinelReset   AuditEventType = "sentinel_reset"

	// Registry events -> workload_event/4
	AuditWorkloadAdded   AuditEventType = "workload_added"
	AuditWorkloadRemoved AuditEventType = "workload_removed"

	// Error events -> error_event/4
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry that can be parsed to
// Mangle. Format: predicate(timestamp, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`    // Unix milliseconds
	EventType  AuditEventType         `json:"event"` // Maps to Mangle predicate
	Category   string                 `json:"cat"`
	CycleID    string                 `json:"cycle"`  // Cycle correlation
	RunID      string                 `json:"run"`    // Sandbox run correlation
	Module     string                 `json:"module"` // Module name if applicable
	Identity   string                 `json:"identity"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields"`
	MangleFact string                 `json:"mangle"` // Pre-formatted Mangle fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with Mangle fact generation
type AuditLogger struct {
	cycleID  string
	category Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: Mangle-queryable structured events\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithCycle creates an audit logger scoped to one governance cycle
func AuditWithCycle(cycleID string) *AuditLogger {
	return &AuditLogger{cycleID: cycleID}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.CycleID == "" && a.cycleID != "" {
		event.CycleID = a.cycleID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	event.MangleFact = generateMangleFact(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateMangleFact creates a Mangle-compatible fact string from an event
func generateMangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditCycleStart, AuditCycleComplete, AuditCycleAbort:
		return fmt.Sprintf("cycle_event(%d, /%s, \"%s\", %d).",
			e.Timestamp, e.EventType, e.CycleID, e.DurationMs)

	case AuditSandboxRun, AuditSandboxTimeout, AuditSandboxLaunch:
		exit := int64(0)
		if v, ok := e.Fields["exit_code"].(int); ok {
			exit = int64(v)
		}
		return fmt.Sprintf("sandbox_run(%d, /%s, \"%s\", %v, %d, %d).",
			e.Timestamp, e.EventType, escapeString(e.Module), e.Success, exit, e.DurationMs)

	case AuditCertify, AuditDecertify:
		vp := 0.0
		if v, ok := e.Fields["vp"].(float64); ok {
			vp = v
		}
		return fmt.Sprintf("certification(%d, /%s, \"%s\", \"%s\", %.6f, %v).",
			e.Timestamp, e.EventType, e.Identity, escapeString(e.Module), vp, e.Success)

	case AuditSnapshot, AuditRollback:
		version := int64(0)
		if v, ok := e.Fields["version"].(int64); ok {
			version = v
		}
		return fmt.Sprintf("kernel_version(%d, /%s, %d, %v).",
			e.Timestamp, e.EventType, version, e.Success)

	case AuditIdentityDrift:
		prev := ""
		if p, ok := e.Fields["previous"].(string); ok {
			prev = p
		}
		return fmt.Sprintf("identity_drift(%d, \"%s\", \"%s\", \"%s\").",
			e.Timestamp, escapeString(e.Module), prev, e.Identity)

	case AuditPhaseTransition, AuditPhaseHold, AuditSentinelReset:
		phase := ""
		if p, ok := e.Fields["phase"].(string); ok {
			phase = p
		}
		aggregate := 0.0
		if g, ok := e.Fields["aggregate"].(float64); ok {
			aggregate = g
		}
		return fmt.Sprintf("phase_event(%d, /%s, /%s, %.4f, %v).",
			e.Timestamp, e.EventType, phase, aggregate, e.Success)

	case AuditWorkloadAdded, AuditWorkloadRemoved:
		return fmt.Sprintf("workload_event(%d, /%s, \"%s\", %v).",
			e.Timestamp, e.EventType, escapeString(e.Module), e.Success)

	case AuditErrorGeneric, AuditErrorCritical:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

func escapeString(s string) string {
	// Escape quotes and backslashes for Mangle strings
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// CycleStart logs the beginning of a governance cycle
func (a *AuditLogger) CycleStart(cycleID string, moduleCount int) {
	a.Log(AuditEvent{
		EventType: AuditCycleStart,
		CycleID:   cycleID,
		Success:   true,
		Fields:    map[string]interface{}{"modules": moduleCount},
		Message:   fmt.Sprintf("Cycle started: %s (%d modules)", cycleID, moduleCount),
	})
}

// CycleComplete logs the end of a governance cycle
func (a *AuditLogger) CycleComplete(cycleID string, durationMs int64, certified, total int) {
	a.Log(AuditEvent{
		EventType:  AuditCycleComplete,
		CycleID:    cycleID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"certified": certified, "total": total},
		Message:    fmt.Sprintf("Cycle completed: %s (%d/%d certified, %dms)", cycleID, certified, total, durationMs),
	})
}

// SandboxRun logs a completed sandbox execution
func (a *AuditLogger) SandboxRun(runID, module string, completed bool, exitCode int, durationMs int64, reason string) {
	eventType := AuditSandboxRun
	switch reason {
	case "timeout":
		eventType = AuditSandboxTimeout
	case "launch":
		eventType = AuditSandboxLaunch
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		RunID:      runID,
		Module:     module,
		Success:    completed && exitCode == 0,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"exit_code": exitCode},
		Message:    fmt.Sprintf("Sandbox run: %s completed=%v exit=%d (%dms)", module, completed, exitCode, durationMs),
	})
}

// Certification logs a certification decision
func (a *AuditLogger) Certification(identity, module string, vp float64, certified bool) {
	eventType := AuditCertify
	if !certified {
		eventType = AuditDecertify
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Identity:  identity,
		Module:    module,
		Success:   certified,
		Fields:    map[string]interface{}{"vp": vp},
		Message:   fmt.Sprintf("Certification: %s (%s) vp=%.4f certified=%v", module, identity, vp, certified),
	})
}

// Snapshot logs a kernel version snapshot
func (a *AuditLogger) Snapshot(version int64, records int) {
	a.Log(AuditEvent{
		EventType: AuditSnapshot,
		Success:   true,
		Fields:    map[string]interface{}{"version": version, "records": records},
		Message:   fmt.Sprintf("Kernel snapshot: v%d (%d records)", version, records),
	})
}

// Rollback logs a kernel rollback attempt
func (a *AuditLogger) Rollback(target int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditRollback,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"version": target},
		Message:   fmt.Sprintf("Kernel rollback: -> v%d success=%v", target, success),
	})
}

// IdentityDrift logs a module whose behavioral identity changed between cycles
func (a *AuditLogger) IdentityDrift(module, previous, current string) {
	a.Log(AuditEvent{
		EventType: AuditIdentityDrift,
		Module:    module,
		Identity:  current,
		Success:   true,
		Fields:    map[string]interface{}{"previous": previous},
		Message:   fmt.Sprintf("Identity drift: %s %s -> %s", module, previous, current),
	})
}

// PhaseTransition logs a phase machine transition
func (a *AuditLogger) PhaseTransition(from, to string, aggregate float64) {
	a.Log(AuditEvent{
		EventType: AuditPhaseTransition,
		Success:   true,
		Fields:    map[string]interface{}{"phase": to, "from": from, "aggregate": aggregate},
		Message:   fmt.Sprintf("Phase transition: %s -> %s (aggregate=%.4f)", from, to, aggregate),
	})
}

// SentinelReset logs an explicit sentinel reset
func (a *AuditLogger) SentinelReset(reason string) {
	a.Log(AuditEvent{
		EventType: AuditSentinelReset,
		Success:   true,
		Fields:    map[string]interface{}{"phase": "genesis", "reason": reason},
		Message:   fmt.Sprintf("Sentinel reset: %s", reason),
	})
}

// WorkloadChange logs a registry addition or removal
func (a *AuditLogger) WorkloadChange(name string, added bool) {
	eventType := AuditWorkloadAdded
	if !added {
		eventType = AuditWorkloadRemoved
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Module:    name,
		Success:   true,
		Message:   fmt.Sprintf("Workload %s: %s", eventType, name),
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
		Message:   fmt.Sprintf("Error in %s: %s (critical=%v)", category, errMsg, critical),
	})
}
