package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	uuidPattern = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)
	refPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
)

// MaxRefLength bounds external reference identifiers
const MaxRefLength = 64

// ValidateRecordID validates that a record id is a properly formatted UUID
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if !uuidPattern.MatchString(strings.ToLower(id)) {
		return fmt.Errorf("invalid UUID format")
	}
	return nil
}

// ValidateRef checks an external reference (company, client, claim, employee).
// References are opaque ids issued by other systems.
func ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("is required")
	}
	if len(ref) > MaxRefLength {
		return fmt.Errorf("must be at most %d characters", MaxRefLength)
	}
	if !refPattern.MatchString(ref) {
		return fmt.Errorf("contains invalid characters")
	}
	return nil
}

// EscapeForLogging escapes free text for safe single-line logging
func EscapeForLogging(text string, maxLen int) string {
	// Truncate
	if len(text) > maxLen {
		text = text[:maxLen] + "..."
	}

	// Remove newlines for single-line logging
	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}
