// SPDX-License-Identifier: MIT

// Package validate accumulates field-level problems so a config can be
// rejected with every mistake reported at once.
package validate

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FieldError is a single rejected field.
type FieldError struct {
	Field   string
	Value   any
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationError is returned by Validator.Err.
type ValidationError struct {
	errs []FieldError
}

func (e ValidationError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, fe := range e.errs {
		msgs[i] = fe.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Errors returns the field errors in the order they were found.
func (e ValidationError) Errors() []FieldError {
	return slices.Clone(e.errs)
}

// Fields lists the rejected field names.
func (e ValidationError) Fields() []string {
	out := make([]string, len(e.errs))
	for i, fe := range e.errs {
		out[i] = fe.Field
	}
	return out
}

// Unwrap exposes the field errors to errors.Is and errors.As.
func (e ValidationError) Unwrap() []error {
	out := make([]error, len(e.errs))
	for i, fe := range e.errs {
		out[i] = fe
	}
	return out
}

// Validator collects FieldErrors. The zero value is ready to use.
type Validator struct {
	errs []FieldError
}

func New() *Validator { return &Validator{} }

// AddError records a failed field.
func (v *Validator) AddError(field, message string, value any) {
	v.errs = append(v.errs, FieldError{Field: field, Value: value, Message: message})
}

func (v *Validator) addf(field string, value any, format string, args ...any) {
	v.AddError(field, fmt.Sprintf(format, args...), value)
}

func (v *Validator) IsValid() bool { return len(v.errs) == 0 }

func (v *Validator) Errors() []FieldError { return slices.Clone(v.errs) }

// Err returns nil or a ValidationError snapshot of the collected errors.
func (v *Validator) Err() error {
	if len(v.errs) == 0 {
		return nil
	}
	return ValidationError{errs: slices.Clone(v.errs)}
}

// Host accepts a hostname or IP literal without a port.
func (v *Validator) Host(field, value string) {
	switch {
	case strings.TrimSpace(value) == "":
		v.AddError(field, "must not be empty", value)
	case net.ParseIP(value) != nil:
	case strings.ContainsAny(value, " /:"):
		v.AddError(field, "must be a bare hostname or IP address", value)
	}
}

// ListenAddr accepts host:port with an optional host and a numeric port.
func (v *Validator) ListenAddr(field, value string) {
	_, port, err := net.SplitHostPort(value)
	if err != nil {
		v.addf(field, value, "invalid address: %v", err)
		return
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		v.addf(field, value, "invalid port %q", port)
	}
}

func (v *Validator) Port(field string, port int) {
	if port < 1 || port > 65535 {
		v.addf(field, port, "port must be between 1 and 65535, got %d", port)
	}
}

// Range checks minVal <= value <= maxVal.
func (v *Validator) Range(field string, value, minVal, maxVal int) {
	if value < minVal || value > maxVal {
		v.addf(field, value, "must be between %d and %d, got %d", minVal, maxVal, value)
	}
}

// FloatRange checks minVal <= value <= maxVal.
func (v *Validator) FloatRange(field string, value, minVal, maxVal float64) {
	if value < minVal || value > maxVal {
		v.addf(field, value, "must be between %g and %g, got %g", minVal, maxVal, value)
	}
}

func (v *Validator) NotEmpty(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "must not be empty", value)
	}
}

func (v *Validator) OneOf(field, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.addf(field, value, "must be one of %s, got %q", strings.Join(allowed, "|"), value)
	}
}

func (v *Validator) Positive(field string, value int) {
	if value <= 0 {
		v.addf(field, value, "must be positive, got %d", value)
	}
}

func (v *Validator) NonNegative(field string, value int) {
	if value < 0 {
		v.addf(field, value, "must not be negative, got %d", value)
	}
}

func (v *Validator) NonNegativeFloat(field string, value float64) {
	if value < 0 {
		v.addf(field, value, "must not be negative, got %g", value)
	}
}

func (v *Validator) PositiveDuration(field string, value time.Duration) {
	if value <= 0 {
		v.addf(field, value, "must be positive, got %s", value)
	}
}

func (v *Validator) NonNegativeDuration(field string, value time.Duration) {
	if value < 0 {
		v.addf(field, value, "must not be negative, got %s", value)
	}
}
