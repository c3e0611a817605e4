package models

import (
	"errors"
	"fmt"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrEventNotFound   = errors.New("event not found")
)

// DataQualityError reports malformed input data. It is never fatal: the
// affected item is skipped or replaced by a documented fallback.
type DataQualityError struct {
	EventID string
	Field   string
	Value   string
	Reason  string
}

func (e *DataQualityError) Error() string {
	msg := "data quality: " + e.Field
	if e.EventID != "" {
		msg = fmt.Sprintf("data quality: event %s: %s", e.EventID, e.Field)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	return msg + ": " + e.Reason
}

// IsDataQuality reports whether err wraps a DataQualityError.
func IsDataQuality(err error) bool {
	var dq *DataQualityError
	return errors.As(err, &dq)
}
