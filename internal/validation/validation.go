package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	hsync "github.com/hyperengineering/habitsync/internal/sync"
	"github.com/hyperengineering/habitsync/internal/types"
)

// MaxDeviceIDLength bounds device identifiers accepted by the server.
const MaxDeviceIDLength = 128

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max bytes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if len(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range value {
		upper := strings.ToUpper(string(r))
		if !strings.Contains(crockfordBase32, upper) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidatePositive returns an error unless value > 0.
func ValidatePositive(field string, value int64) *ValidationError {
	if value <= 0 {
		return &ValidationError{
			Field:   field,
			Message: "must be a positive integer",
		}
	}
	return nil
}

// ValidateJSONObject returns an error unless raw is a JSON object. Empty
// or null payloads pass when optional is set.
func ValidateJSONObject(field string, raw json.RawMessage, optional bool) *ValidationError {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if optional {
			return nil
		}
		return &ValidationError{Field: field, Message: "is required"}
	}
	if trimmed[0] != '{' || !json.Valid(trimmed) {
		return &ValidationError{Field: field, Message: "must be a JSON object"}
	}
	return nil
}

// ValidateDeviceID checks a device identifier sent by a client.
func ValidateDeviceID(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	return ValidateMaxLength(field, value, MaxDeviceIDLength)
}

func tableNames() []string {
	names := make([]string, len(types.Kinds))
	for i, k := range types.Kinds {
		names[i] = string(k)
	}
	return names
}

var operations = []string{
	string(hsync.OperationInsert),
	string(hsync.OperationUpdate),
	string(hsync.OperationDelete),
}

// ValidateChange checks one pushed change. Insert and update must carry the
// full record snapshot; delete may carry the last snapshot or nothing.
func ValidateChange(prefix string, c hsync.ChangeLogEntry) []ValidationError {
	var v Collector

	v.Add(ValidateEnum(prefix+".tableName", c.TableName, tableNames()))
	v.Add(ValidateEnum(prefix+".operation", string(c.Operation), operations))
	v.Add(ValidatePositive(prefix+".recordId", c.RecordID))
	v.Add(ValidateJSONObject(prefix+".data", c.Data, c.Operation == hsync.OperationDelete))

	return v.Errors()
}

// ValidatePushRequest checks a push body. All field errors are returned
// together.
func ValidatePushRequest(req hsync.PushRequest) []ValidationError {
	var v Collector

	v.Add(ValidateDeviceID("deviceId", req.DeviceID))
	if req.PushID != "" {
		v.Add(ValidateULID("pushId", req.PushID))
	}
	if len(req.Changes) > hsync.MaxPushChanges {
		v.Add(&ValidationError{
			Field:   "changes",
			Message: fmt.Sprintf("exceeds maximum of %d changes", hsync.MaxPushChanges),
		})
		return v.Errors()
	}

	for i, c := range req.Changes {
		for _, err := range ValidateChange(fmt.Sprintf("changes[%d]", i), c) {
			v.Add(&err)
		}
	}
	return v.Errors()
}
