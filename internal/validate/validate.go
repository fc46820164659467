// Package validate normalizes and checks caller input before it reaches the
// request pipeline. Every failure is a *provider.InvalidInputError.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"marketdata/internal/provider"
)

// MaxBatch bounds how many symbols or series one call may ask for.
const MaxBatch = 50

// symbolAliases maps common spellings to the upstream ticker.
// Keys are upper-cased.
var symbolAliases = map[string]string{
	"SPX":   "^GSPC",
	"GSPC":  "^GSPC",
	"DJI":   "^DJI",
	"DJIA":  "^DJI",
	"NDX":   "^NDX",
	"IXIC":  "^IXIC",
	"VIX":   "^VIX",
	"RUT":   "^RUT",
	"BRK.A": "BRK-A",
	"BRK.B": "BRK-B",
	"BF.A":  "BF-A",
	"BF.B":  "BF-B",
}

var (
	symbolRe = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-=]{0,19}$`)
	seriesRe = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_]{0,29}$`)
	isinRe   = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)
)

func invalid(field, value, reason string) error {
	return &provider.InvalidInputError{Field: field, Value: value, Reason: reason}
}

// Symbol trims, upper-cases and resolves aliases.
func Symbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", invalid("symbol", s, "must not be empty")
	}
	if alias, ok := symbolAliases[sym]; ok {
		sym = alias
	}
	if !symbolRe.MatchString(sym) {
		return "", invalid("symbol", s, "unsupported characters or too long")
	}
	return sym, nil
}

// Symbols normalizes each symbol and drops duplicates, keeping order.
// A symbol Symbol rejects is kept as given so a batch can fail that item
// alone; only an empty or oversized list is an error here.
func Symbols(in []string) ([]string, error) {
	return list("symbols", in, Symbol)
}

// SeriesID checks a FRED series identifier, e.g. "DGS10".
func SeriesID(s string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(s))
	if id == "" {
		return "", invalid("series_id", s, "must not be empty")
	}
	if !seriesRe.MatchString(id) {
		return "", invalid("series_id", s, "letters, digits and underscore only")
	}
	return id, nil
}

// SeriesIDs is Symbols for FRED series identifiers.
func SeriesIDs(in []string) ([]string, error) {
	return list("series_ids", in, SeriesID)
}

func list(field string, in []string, one func(string) (string, error)) ([]string, error) {
	if len(in) == 0 {
		return nil, invalid(field, "", "at least one is required")
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		v, err := one(raw)
		if err != nil {
			v = strings.TrimSpace(raw)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > MaxBatch {
		return nil, invalid(field, "", "too many items")
	}
	return out, nil
}

// ISIN upper-cases s and verifies the Luhn check digit over the
// letter-expanded code.
func ISIN(s string) (string, error) {
	isin := strings.ToUpper(strings.TrimSpace(s))
	if !isinRe.MatchString(isin) {
		return "", invalid("isin", s, "must be 2 letters, 9 alphanumerics and a check digit")
	}
	var digits []byte
	for i := 0; i < len(isin); i++ {
		c := isin[i]
		if c >= 'A' && c <= 'Z' {
			n := int(c-'A') + 10
			digits = append(digits, byte('0'+n/10), byte('0'+n%10))
			continue
		}
		digits = append(digits, c)
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	if sum%10 != 0 {
		return "", invalid("isin", s, "check digit mismatch")
	}
	return isin, nil
}

// Query checks a free-text search string.
func Query(s string) (string, error) {
	q := strings.TrimSpace(s)
	if q == "" {
		return "", invalid("query", s, "must not be empty")
	}
	if len(q) > 100 {
		return "", invalid("query", "", "longer than 100 characters")
	}
	return q, nil
}

var ranges = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"5d":  5 * 24 * time.Hour,
	"1mo": 31 * 24 * time.Hour,
	"3mo": 92 * 24 * time.Hour,
	"6mo": 183 * 24 * time.Hour,
	"1y":  366 * 24 * time.Hour,
	"2y":  2 * 366 * 24 * time.Hour,
	"5y":  5 * 366 * 24 * time.Hour,
	"10y": 10 * 366 * 24 * time.Hour,
	"ytd": 366 * 24 * time.Hour,
	"max": 0,
}

// intraday intervals and how far back the upstream serves them
var intervals = map[string]time.Duration{
	"1m":  7 * 24 * time.Hour,
	"2m":  60 * 24 * time.Hour,
	"5m":  60 * 24 * time.Hour,
	"15m": 60 * 24 * time.Hour,
	"30m": 60 * 24 * time.Hour,
	"60m": 730 * 24 * time.Hour,
	"90m": 60 * 24 * time.Hour,
	"1h":  730 * 24 * time.Hour,
	"1d":  0,
	"5d":  0,
	"1wk": 0,
	"1mo": 0,
	"3mo": 0,
}

func Range(r string) (string, error) {
	r = strings.ToLower(strings.TrimSpace(r))
	if _, ok := ranges[r]; !ok {
		return "", invalid("range", r, "unknown range")
	}
	return r, nil
}

func Interval(i string) (string, error) {
	i = strings.ToLower(strings.TrimSpace(i))
	if _, ok := intervals[i]; !ok {
		return "", invalid("interval", i, "unknown interval")
	}
	return i, nil
}

// RangeInterval checks that the upstream keeps interval bars for the whole range.
func RangeInterval(r, i string) error {
	span, ok := ranges[r]
	if !ok {
		return invalid("range", r, "unknown range")
	}
	limit, ok := intervals[i]
	if !ok {
		return invalid("interval", i, "unknown interval")
	}
	if limit == 0 {
		return nil
	}
	if span == 0 || span > limit {
		return invalid("interval", i, "not available for range "+r)
	}
	return nil
}

// IntervalSpan checks that the upstream keeps interval bars across an
// explicit period of length span.
func IntervalSpan(i string, span time.Duration) error {
	limit, ok := intervals[i]
	if !ok {
		return invalid("interval", i, "unknown interval")
	}
	if limit == 0 || span <= limit {
		return nil
	}
	return invalid("interval", i, fmt.Sprintf("not available for a period over %d days", int(limit.Hours()/24)))
}

// Period checks that a start/end pair is ordered. Zero values are open ends.
func Period(start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return invalid("period", start.Format(time.DateOnly)+".."+end.Format(time.DateOnly), "start must be before end")
	}
	return nil
}

// Date parses a YYYY-MM-DD value; empty input is the zero time.
func Date(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, invalid(field, s, "want YYYY-MM-DD")
	}
	return t, nil
}

// Count bounds n to [1, limit]; zero means def.
func Count(field string, n, def, limit int) (int, error) {
	if n == 0 {
		return def, nil
	}
	if n < 0 || n > limit {
		return 0, invalid(field, "", "out of range")
	}
	return n, nil
}
