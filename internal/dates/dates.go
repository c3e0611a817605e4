// Package dates builds and compares calendar-day identities from the wall
// clock of each instant, so that days never drift through UTC conversion.
package dates

import (
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/goodsign/monday"

	"formacal/internal/models"
)

// DefaultLocale is used when a locale is empty or unsupported.
const DefaultLocale = "fr_FR"

var locales = map[string]monday.Locale{
	"fr_FR": monday.LocaleFrFR,
	"en_US": monday.LocaleEnUS,
	"en_GB": monday.LocaleEnGB,
	"de_DE": monday.LocaleDeDE,
	"es_ES": monday.LocaleEsES,
}

// LocalDateKey returns YYYY-MM-DD built from the year, month and day of t in its
// own location. The zero time yields "".
func LocalDateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}

// IsSameLocalDay reports whether a and b fall on the same local calendar day.
// Invalid instants never match.
func IsSameLocalDay(a, b time.Time) bool {
	ka := LocalDateKey(a)
	return ka != "" && ka == LocalDateKey(b)
}

// SameLocalMonth reports whether a and b share local month and year.
func SameLocalMonth(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// FormatLocalDate renders t as "D MMMM YYYY" in the given locale, e.g.
// "11 mars 2024" for fr_FR. The zero time yields "".
func FormatLocalDate(t time.Time, locale string) string {
	if t.IsZero() {
		return ""
	}
	return monday.Format(t, "2 January 2006", resolveLocale(locale))
}

// FormatLocalDay renders the day-of-month alone.
func FormatLocalDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d", t.Day())
}

func resolveLocale(locale string) monday.Locale {
	if l, ok := locales[strings.TrimSpace(locale)]; ok {
		return l
	}
	return locales[DefaultLocale]
}

// SupportedLocale reports whether locale has month names available.
func SupportedLocale(locale string) bool {
	_, ok := locales[locale]
	return ok
}

// LastCoveredDay returns an instant on the last local day an interval from
// start to end touches. An end exactly at local midnight after start belongs
// to the previous day, as for all-day events with an exclusive end.
func LastCoveredDay(start, end time.Time) time.Time {
	if end.IsZero() || !end.After(start) {
		return end
	}
	if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 && end.Nanosecond() == 0 {
		return end.Add(-time.Nanosecond)
	}
	return end
}

// EventsActiveOnDay yields the events whose local day span contains day.
// Events with invalid instants are never yielded.
func EventsActiveOnDay(events []models.Event, day time.Time) iter.Seq[models.Event] {
	key := LocalDateKey(day)
	return func(yield func(models.Event) bool) {
		if key == "" {
			return
		}
		for _, ev := range events {
			from := LocalDateKey(ev.Start)
			to := LocalDateKey(LastCoveredDay(ev.Start, ev.End))
			if from == "" || to == "" {
				continue
			}
			if to < from {
				to = from
			}
			// YYYY-MM-DD keys compare lexically in calendar order.
			if from <= key && key <= to {
				if !yield(ev) {
					return
				}
			}
		}
	}
}

// DayRange returns the local days from from to to inclusive, at midnight in
// from's location. It returns nil when either bound is invalid or to precedes from.
func DayRange(from, to time.Time) []time.Time {
	if from.IsZero() || to.IsZero() {
		return nil
	}
	loc := from.Location()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	endLocal := to.In(loc)
	end := time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), 0, 0, 0, 0, loc)
	if end.Before(start) {
		return nil
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// LoadLocation resolves an IANA zone name, falling back to time.Local.
func LoadLocation(logger *slog.Logger, name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if logger != nil {
			logger.Warn("Unknown timezone, falling back to local time.", "timezone", name, "error", err)
		}
		return time.Local
	}
	return loc
}
