package retention

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

var durationTerm = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zµ]+)`)

// unitAliases maps the long and abbreviated unit names people type to the
// units str2duration understands.
var unitAliases = map[string]string{
	"w": "w", "wk": "w", "wks": "w", "week": "w", "weeks": "w",
	"d": "d", "day": "d", "days": "d",
	"h": "h", "hr": "h", "hrs": "h", "hour": "h", "hours": "h",
	"m": "m", "min": "m", "mins": "m", "minute": "m", "minutes": "m",
	"s": "s", "sec": "s", "secs": "s", "second": "s", "seconds": "s",
	"ms": "ms", "millisecond": "ms", "milliseconds": "ms",
}

// ParseRetention parses a human retention duration such as "12d",
// "1hr 20min", "1w" or "2 days 3 hours". Go duration syntax is accepted too.
func ParseRetention(s string) (time.Duration, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, fmt.Errorf("empty duration")
	}

	terms := durationTerm.FindAllStringSubmatchIndex(in, -1)
	if len(terms) == 0 {
		return 0, fmt.Errorf("duration %q has no units", s)
	}

	var b strings.Builder
	last := 0
	for _, t := range terms {
		if gap := strings.Trim(in[last:t[0]], " ,"); gap != "" && gap != "and" {
			return 0, fmt.Errorf("unexpected %q in duration %q", gap, s)
		}
		unit, ok := unitAliases[in[t[4]:t[5]]]
		if !ok {
			return 0, fmt.Errorf("unknown unit %q in duration %q", in[t[4]:t[5]], s)
		}
		b.WriteString(in[t[2]:t[3]])
		b.WriteString(unit)
		last = t[1]
	}
	if rest := strings.TrimSpace(in[last:]); rest != "" {
		return 0, fmt.Errorf("unexpected %q in duration %q", rest, s)
	}

	d, err := str2duration.ParseDuration(b.String())
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return d, nil
}

// FormatRetention renders a duration in the compact form ParseRetention
// accepts, e.g. "1w5d" or "1h20m".
func FormatRetention(d time.Duration) string {
	return str2duration.String(d)
}

// ValidateRetention checks that d lies in (0, max].
func ValidateRetention(d, max time.Duration) error {
	switch {
	case d <= 0:
		return &RetentionRangeError{Reason: "duration must be positive"}
	case max > 0 && d > max:
		return &RetentionRangeError{Reason: fmt.Sprintf("duration cannot be longer than %s", FormatRetention(max))}
	}
	return nil
}
