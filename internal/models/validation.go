package models

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var (
	orgNumberPattern    = regexp.MustCompile(`^\d{6}-\d{4}$`)
	postalCodePattern   = regexp.MustCompile(`^\d{3}\s?\d{2}$`)
	personNumberPattern = regexp.MustCompile(`^\d{12}$`)
)

// OwnershipTolerance is the slack allowed when summing borrower shares.
const OwnershipTolerance = 0.01

// FieldError is one failed field check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every field that failed. It is returned before any
// request reaches the backend.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) required(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
	}
}

func (e *ValidationError) pattern(field, value string, re *regexp.Regexp, want string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
		return
	}
	if !re.MatchString(strings.TrimSpace(value)) {
		e.add(field, "must match %s", want)
	}
}

func (e *ValidationError) email(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		e.add(field, "is not a valid email address")
	}
}

func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// ValidPersonNumber reports whether s is a 12 digit personnummer.
func ValidPersonNumber(s string) bool { return personNumberPattern.MatchString(s) }

// ValidOrgNumber reports whether s is an NNNNNN-NNNN organisation number.
func ValidOrgNumber(s string) bool { return orgNumberPattern.MatchString(s) }
