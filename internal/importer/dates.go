package importer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// serialEpochOffset is the spreadsheet serial number of 1970-01-01
// (serial day 0 is 1899-12-30).
const serialEpochOffset = 25569

// dateLayouts are tried in order against the normalized (lowercased,
// "de"/"del" collapsed) value. Day-first layouts come before month-first
// ones, so 03/04/2024 is the 3rd of April.
var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04",
	"2/1/2006 15:04",
	"02/01/2006 15:04:05",
	"2/1/2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02t15:04:05",
	"01/02/2006",
	"01/02/2006 15:04",
	"02.01.2006",
	"2.1.2006",
	"02.01.2006 15:04",
	"2.1.2006 15:04",
	"02-01-2006",
	"2-1-2006",
}

// fallbackLayouts are tried against the original trimmed value when
// nothing else matched.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006/01/02",
	"2006/1/2",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
	time.RFC850,
	time.UnixDate,
	time.ANSIC,
	"Mon Jan 2 2006",
	"Mon Jan 02 2006 15:04:05 GMT-0700",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
}

var spanishAbbrev = map[string]time.Month{
	"ene": time.January, "feb": time.February, "mar": time.March, "abr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "ago": time.August,
	"sep": time.September, "sept": time.September, "set": time.September,
	"oct": time.October, "nov": time.November, "dic": time.December,
}

// monthNames is the canonical table textual months are prefix-matched
// against, in calendar order.
var monthNames = []string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

var (
	abbrevDateRe  = regexp.MustCompile(`^(\d{1,2}) ([a-z]{3,4})\.? (\d{4})(?: (\d{1,2}):(\d{2}))?$`)
	textualDateRe = regexp.MustCompile(`(\d{1,2})[\s./-]*([a-z]+)\.?[\s./-]*(\d{4})`)
)

// DateCoercer converts heterogeneous spreadsheet date cells into times.
// The zero value parses in UTC.
type DateCoercer struct {
	Location *time.Location
}

// CoerceDate coerces value with a UTC DateCoercer.
func CoerceDate(value any) (time.Time, bool) {
	return DateCoercer{}.Coerce(value)
}

func (dc DateCoercer) loc() *time.Location {
	if dc.Location == nil {
		return time.UTC
	}
	return dc.Location
}

// Coerce returns the date represented by value, or ok=false when it is
// empty or cannot be interpreted. Numbers are spreadsheet serial dates and
// are not range checked.
func (dc DateCoercer) Coerce(value any) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case float64:
		return dc.fromSerial(v)
	case float32:
		return dc.fromSerial(float64(v))
	case int:
		return dc.fromSerial(float64(v))
	case int64:
		return dc.fromSerial(float64(v))
	case string:
		return dc.coerceString(v)
	default:
		return dc.coerceString(fmt.Sprint(v))
	}
}

func (dc DateCoercer) fromSerial(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	ms := math.Round((v - serialEpochOffset) * 86400 * 1000)
	u := time.UnixMilli(int64(ms)).UTC()
	// A serial is a wall-clock reading, like a typed date.
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), dc.loc()), true
}

// wallClockSerial is the inverse of fromSerial for a time whose wall clock
// was read as UTC.
func wallClockSerial(t time.Time) float64 {
	return float64(t.UTC().UnixMilli())/(86400*1000) + serialEpochOffset
}

func (dc DateCoercer) coerceString(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}

	if serial, ok := numericSerial(trimmed); ok {
		return dc.fromSerial(serial)
	}

	s := normalizeDateString(trimmed)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, dc.loc()); err == nil {
			return t, true
		}
	}
	if t, ok := dc.parseAbbrev(s); ok {
		return t, true
	}
	if t, ok := dc.parseTextualMonth(s); ok {
		return t, true
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, dc.loc()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// numericSerial reports whether s is a plain number such as "45366" or
// "45366.354166666664". Dotted dates fail ParseFloat.
func numericSerial(s string) (float64, bool) {
	if strings.ContainsAny(s, "/-") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func normalizeDateString(s string) string {
	s = " " + strings.ToLower(s) + " "
	s = strings.ReplaceAll(s, " del ", " ")
	for strings.Contains(s, " de ") {
		s = strings.ReplaceAll(s, " de ", " ")
	}
	return strings.Join(strings.Fields(s), " ")
}

// parseAbbrev handles "15 mar 2024" and "15 mar. 2024 08:30".
func (dc DateCoercer) parseAbbrev(s string) (time.Time, bool) {
	m := abbrevDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := spanishAbbrev[m[2]]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
	}
	return validDate(year, month, day, hour, minute, dc.loc())
}

// parseTextualMonth extracts day, month name and year from strings such as
// "15 marzo 2024" or "1-sept-2023" and resolves the month by prefix.
func (dc DateCoercer) parseTextualMonth(s string) (time.Time, bool) {
	m := textualDateRe.FindStringSubmatch(stripDiacritics(s))
	if m == nil {
		return time.Time{}, false
	}
	month, ok := resolveMonth(m[2])
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	t, err := time.ParseInLocation("02/01/2006", fmt.Sprintf("%02d/%02d/%s", day, int(month), m[3]), dc.loc())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func resolveMonth(token string) (time.Month, bool) {
	if token == "setiembre" {
		return time.September, true
	}
	if len(token) < 3 {
		return 0, false
	}
	for i, name := range monthNames {
		if strings.HasPrefix(name, token) {
			return time.Month(i + 1), true
		}
	}
	if m, ok := spanishAbbrev[token]; ok {
		return m, true
	}
	return 0, false
}

// validDate builds the date and rejects overflow such as 31/02.
func validDate(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, hour, minute, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func stripDiacritics(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
