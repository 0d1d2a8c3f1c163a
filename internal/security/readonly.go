package security

import (
	"context"
	"fmt"
	"sync"

	apperrors "spxopt/internal/errors"
)

// OperationType represents the type of operation.
type OperationType string

const (
	// Read operations against a supplier
	OpRead          OperationType = "READ"
	OpSecDefLookup  OperationType = "SEC_DEF_LOOKUP"
	OpMarketData    OperationType = "MARKET_DATA"
	OpChainDownload OperationType = "CHAIN_DOWNLOAD"

	// Write operations (blocked in read-only mode)
	OpSnapshotWrite OperationType = "SNAPSHOT_WRITE"
)

// ReadOnlyError represents an error when attempting a write operation in read-only mode.
type ReadOnlyError struct {
	Operation OperationType
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("%s (%s) blocked: read-only mode is enabled", OperationDescription(e.Operation), e.Operation)
}

// Unwrap lets callers match with errors.Is(err, ErrReadOnlyMode).
func (e *ReadOnlyError) Unwrap() error {
	return apperrors.ErrReadOnlyMode
}

// AccessController manages read-only mode and operation permissions.
type AccessController struct {
	readOnly bool
	auditor  Auditor
	mu       sync.RWMutex
}

// NewAccessController creates a new access controller.
func NewAccessController(readOnly bool, auditor Auditor) *AccessController {
	return &AccessController{
		readOnly: readOnly,
		auditor:  auditor,
	}
}

// IsReadOnly returns whether read-only mode is enabled.
func (ac *AccessController) IsReadOnly() bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.readOnly
}

// SetReadOnly sets the read-only mode.
func (ac *AccessController) SetReadOnly(readOnly bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.readOnly = readOnly
}

// CheckPermission checks if an operation is allowed. A nil controller allows
// everything.
func (ac *AccessController) CheckPermission(ctx context.Context, op OperationType) error {
	if ac == nil {
		return nil
	}
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if !ac.readOnly || !IsWriteOperation(op) {
		return nil
	}

	Record(ctx, ac.auditor, AuditEvent{
		EventType: AuditReadOnlyViolation,
		Action:    string(op),
		Success:   false,
		ErrorMsg:  apperrors.ErrReadOnlyMode.Error(),
	})
	return &ReadOnlyError{Operation: op}
}

// IsWriteOperation returns true if the operation modifies state.
func IsWriteOperation(op OperationType) bool {
	return op == OpSnapshotWrite
}

// OperationDescription returns a human-readable description of an operation.
func OperationDescription(op OperationType) string {
	switch op {
	case OpRead:
		return "Read data"
	case OpSecDefLookup:
		return "Look up contract definitions"
	case OpMarketData:
		return "Request market data snapshot"
	case OpChainDownload:
		return "Download option chain"
	case OpSnapshotWrite:
		return "Store chain snapshot"
	default:
		return string(op)
	}
}
