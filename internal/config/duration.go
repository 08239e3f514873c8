package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("45s", "5m").
// An empty or absent field parses to 0, which every consuming component
// treats as "use my default".

// ParseDurationField parses a duration-valued config field. path names
// the field in errors ("timer.idle_gap"). Negative durations are
// rejected; the accounting and scheduling code has no meaning for them.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with the zero case
// resolved to def at the parse site.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
