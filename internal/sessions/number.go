package sessions

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// "Session 3", "session n°2", "SESSION #4", "Session no 5"
	sessionNumberRe = regexp.MustCompile(`(?i)\bsession\s*(?:n°|no\.?|#)?\s*(\d+)`)

	// trailing "- Day 2/3", "– Jour 1/2", "- J2/3"
	daySuffixRe = regexp.MustCompile(`(?i)\s*[-–]\s*(?:day|jour|j)\s*\d+\s*/\s*\d+\s*$`)
)

// ExtractSessionNumber returns the session ordinal embedded in a title.
// The second result is false when the title carries no session marker.
func ExtractSessionNumber(title string) (int, bool) {
	m := sessionNumberRe.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// StripDaySuffix removes a trailing day-of-multi-day marker from title.
func StripDaySuffix(title string) string {
	return strings.TrimSpace(daySuffixRe.ReplaceAllString(title, ""))
}
