package monitoring

import (
	"errors"
	"fmt"
	"strings"
)

// Severity grades a failure for the monitoring channel
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Kind is a typed error classification produced at the error's origin.
// Free-text keyword matching remains only as a fallback for errors from
// uncontrolled external sources.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindConnection     Kind = "connection"
	KindValidation     Kind = "validation"
	KindBusinessRule   Kind = "business_rule"
	KindInfrastructure Kind = "infrastructure"
	KindDatabase       Kind = "database"
	KindCompensation   Kind = "compensation"
	KindSaga           Kind = "saga"
)

// Severity maps an error kind to its monitoring severity
func (k Kind) Severity() Severity {
	switch k {
	case KindTimeout, KindConnection:
		return SeverityMedium
	case KindValidation, KindBusinessRule:
		return SeverityLow
	case KindInfrastructure, KindDatabase:
		return SeverityHigh
	case KindCompensation, KindSaga:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// KindError attaches a typed kind to an underlying error
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind wraps err with a typed classification
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Classify derives the severity of an error. A typed kind anywhere in the
// chain wins; otherwise the error text is scanned for known keywords and
// unmatched errors default to MEDIUM.
func Classify(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind.Severity()
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "timeout") || strings.Contains(message, "connection"):
		return SeverityMedium
	case strings.Contains(message, "validation") || strings.Contains(message, "business rule"):
		return SeverityLow
	case strings.Contains(message, "infrastructure") || strings.Contains(message, "database"):
		return SeverityHigh
	case strings.Contains(message, "compensation") || strings.Contains(message, "saga"):
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
