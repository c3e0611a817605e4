package dates

import (
	"strings"
	"time"

	"formacal/internal/models"
)

var wallClockLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseInstant parses s as RFC 3339, keeping its recorded offset, or, without
// offset, as a wall clock time in loc.
// Malformed input returns the zero time and a *models.DataQualityError.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return time.Time{}, &models.DataQualityError{Field: "instant", Reason: "empty value"}
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	for _, layout := range wallClockLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &models.DataQualityError{Field: "instant", Value: v, Reason: "unparseable date"}
}
