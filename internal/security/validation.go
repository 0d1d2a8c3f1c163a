package security

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "spxopt/internal/errors"
)

// Validation patterns
var (
	// Underlying symbols become part of a table name, so only letters and digits.
	underlyingPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

	// Leg text: action, count, strike, right, date.
	legTextPattern = regexp.MustCompile(`^[A-Za-z0-9 ,.\t-]{1,64}$`)

	// API key patterns for detection (not validation)
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey|api[_-]?secret|secret[_-]?key|access[_-]?token|auth[_-]?token|bearer)[=:\s]+["']?([A-Za-z0-9_\-\.]{16,})["']?`),
		regexp.MustCompile(`\b(PK|AK|CK)[A-Z0-9]{16,}\b`), // Alpaca key IDs
		regexp.MustCompile(`([A-Za-z0-9]{32,})`),        // Generic long tokens
	}

	// SQL injection patterns
	sqlInjectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union\s+select|select\s+\*|drop\s+table|insert\s+into|delete\s+from|update\s+.*\s+set)`),
		regexp.MustCompile(`(?i)(--|;|'|"|\\x00)`),
	}
)

// ValidateUnderlying validates an underlying symbol such as SPX or NDX.
func ValidateUnderlying(symbol string) error {
	if symbol == "" {
		return apperrors.NewValidationError("underlying", symbol, "symbol cannot be empty")
	}
	if !underlyingPattern.MatchString(symbol) {
		return apperrors.NewValidationError("underlying", symbol, "must be 1-10 uppercase letters or digits, starting with a letter")
	}
	return nil
}

// InputValidator validates user input arriving over the CLI or HTTP API and
// records rejections in the audit trail.
type InputValidator struct {
	auditor Auditor
}

// NewInputValidator creates a new input validator.
func NewInputValidator(auditor Auditor) *InputValidator {
	return &InputValidator{auditor: auditor}
}

// ValidateLegText checks free-form leg text before it is parsed.
func (v *InputValidator) ValidateLegText(ctx context.Context, text string) error {
	if err := checkLegText(text); err != nil {
		v.reject(ctx, "leg", text, err.Error())
		return err
	}
	return nil
}

// ValidateUnderlying validates a symbol and audits a rejection.
func (v *InputValidator) ValidateUnderlying(ctx context.Context, symbol string) error {
	if err := ValidateUnderlying(symbol); err != nil {
		v.reject(ctx, "underlying", symbol, err.Error())
		return err
	}
	return nil
}

// Reject audits a validation failure found by other code.
func (v *InputValidator) Reject(ctx context.Context, field, value string, err error) {
	v.reject(ctx, field, value, err.Error())
}

func (v *InputValidator) reject(ctx context.Context, field, value, reason string) {
	if v == nil {
		return
	}
	Record(ctx, v.auditor, AuditEvent{
		EventType: AuditInputValidation,
		Success:   false,
		ErrorMsg:  reason,
		Details: map[string]interface{}{
			"field": field,
			"value": MaskSensitive(value),
		},
	})
}

func checkLegText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return apperrors.NewValidationError("leg", text, "leg cannot be empty")
	}
	if containsInjection(trimmed) {
		return apperrors.NewValidationError("leg", MaskSensitive(text), "invalid characters detected")
	}
	if !legTextPattern.MatchString(trimmed) {
		return apperrors.NewValidationError("leg", text, fmt.Sprintf("unexpected characters or longer than %d", 64))
	}
	return nil
}

// containsInjection checks for SQL injection patterns.
func containsInjection(input string) bool {
	for _, pattern := range sqlInjectionPatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}

// MaskSensitive masks sensitive data in a string.
func MaskSensitive(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if len(match) > 8 {
				return match[:4] + strings.Repeat("*", len(match)-8) + match[len(match)-4:]
			}
			return strings.Repeat("*", len(match))
		})
	}

	return result
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// sensitiveFields contains field names whose values are always masked.
var sensitiveFields = map[string]bool{
	"api_key":    true,
	"api_secret": true,
	"apikey":     true,
	"apisecret":  true,
	"secret":     true,
	"password":   true,
	"token":      true,
	"secret_key": true,
}

// WithoutCredentials returns a copy of data with credential values masked.
func WithoutCredentials(data map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(data))
	for k, v := range data {
		switch val := v.(type) {
		case map[string]interface{}:
			result[k] = WithoutCredentials(val)
		case string:
			if sensitiveFields[strings.ToLower(k)] {
				result[k] = MaskCredential(val)
			} else {
				result[k] = MaskSensitive(val)
			}
		default:
			if sensitiveFields[strings.ToLower(k)] {
				result[k] = "***"
			} else {
				result[k] = v
			}
		}
	}
	return result
}
