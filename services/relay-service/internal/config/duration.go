package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	isoduration "github.com/sosodev/duration"
)

// ParseDuration accepts Go durations ("30s", "1h30m") and ISO-8601 durations
// limited to weeks, days and time ("PT30S", "P1DT2H", "PT0.5S"). Years and
// months have no fixed length and are rejected.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	upper := strings.ToUpper(s)
	if upper == "" || !strings.ContainsRune("WDHMS", rune(upper[len(upper)-1])) {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	iso, err := isoduration.Parse(upper)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if iso.Years != 0 || iso.Months != 0 {
		return 0, fmt.Errorf("invalid duration %q: years and months are not supported", s)
	}
	secs := iso.Weeks*7*86400 + iso.Days*86400 + iso.Hours*3600 + iso.Minutes*60 + iso.Seconds
	if secs*float64(time.Second) >= math.MaxInt64 {
		return 0, fmt.Errorf("duration %q out of range", s)
	}
	return iso.ToTimeDuration(), nil
}
