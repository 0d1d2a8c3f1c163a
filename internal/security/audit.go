// Package security provides the supplier access audit trail, read-only
// controls and input validation.
package security

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// Supplier session events
	AuditSupplierConnect    AuditEventType = "SUPPLIER_CONNECT"
	AuditSupplierDisconnect AuditEventType = "SUPPLIER_DISCONNECT"
	AuditConnectionOpen     AuditEventType = "CONNECTION_OPEN"
	AuditConnectionClose    AuditEventType = "CONNECTION_CLOSE"

	// Data access events
	AuditSecDefLookup      AuditEventType = "SEC_DEF_LOOKUP"
	AuditMarketDataRequest AuditEventType = "MARKET_DATA_REQUEST"
	AuditSnapshotStored    AuditEventType = "SNAPSHOT_STORED"

	// Security events
	AuditReadOnlyViolation AuditEventType = "READ_ONLY_VIOLATION"
	AuditInputValidation   AuditEventType = "INPUT_VALIDATION"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Supplier   string                 `json:"supplier,omitempty"`
	Underlying string                 `json:"underlying,omitempty"`
	Action     string                 `json:"action,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Success    bool                   `json:"success"`
	ErrorMsg   string                 `json:"error,omitempty"`
	Host       string                 `json:"host,omitempty"`
	IPAddress  string                 `json:"ip_address,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
}

// Auditor records supplier access. *AuditLogger implements it; suppliers
// accept a nil Auditor and then record nothing.
type Auditor interface {
	Log(ctx context.Context, event AuditEvent) error
}

// AuditLogger writes audit events as JSON lines to a rotated file.
type AuditLogger struct {
	writer    *lumberjack.Logger
	mu        sync.Mutex
	sessionID string
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "spxopt", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	writer := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: generateSessionID(),
	}, nil
}

// Log logs an audit event.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = time.Now().UTC()
	event.SessionID = al.sessionID

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}

	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}

	return nil
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	return al.writer.Close()
}

// Record logs event on a when a is non-nil. Errors writing the trail are dropped.
func Record(ctx context.Context, a Auditor, event AuditEvent) {
	if a == nil {
		return
	}
	_ = a.Log(ctx, event)
}

// ConnectionEvent builds a CONNECTION_OPEN or CONNECTION_CLOSE event for
// endpoint, resolving its host to an IP address when possible.
func ConnectionEvent(eventType AuditEventType, supplier, endpoint string, err error) AuditEvent {
	host := endpoint
	if u, perr := url.Parse(endpoint); perr == nil && u.Host != "" {
		host = u.Hostname()
	}
	event := AuditEvent{
		EventType: eventType,
		Supplier:  supplier,
		Host:      host,
		IPAddress: ResolveIP(host),
		Success:   err == nil,
	}
	if err != nil {
		event.ErrorMsg = MaskSensitive(err.Error())
	}
	return event
}

// ResolveIP returns the first address host resolves to, or host itself.
func ResolveIP(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	return addrs[0]
}

// generateSessionID generates a unique session ID.
func generateSessionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
