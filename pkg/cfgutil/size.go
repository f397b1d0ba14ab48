// Package cfgutil parses the size, duration and reconnect-interval string
// grammars master/minion configuration files use. No pack library targets
// this domain-specific syntax — justified stdlib use, see DESIGN.md.
package cfgutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var sizeUnits = map[string]int64{
	"":     1,
	"b":    1,
	"bytes": 1,
	"k":    1 << 10,
	"kb":   1 << 10,
	"m":    1 << 20,
	"mb":   1 << 20,
	"g":    1 << 30,
	"gb":   1 << 30,
	"t":    1 << 40,
	"tb":   1 << 40,
}

// ParseSize parses "<decimal><unit?>" (b|bytes|k|kb|m|mb|g|gb|t|tb, spaces
// permitted, unit defaulting to bytes) into a byte count.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	numPart := s[:i]
	unitPart := strings.ToLower(strings.TrimSpace(s[i:]))

	if numPart == "" {
		return 0, fmt.Errorf("invalid size %q: missing numeric part", s)
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	mult, ok := sizeUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, unitPart)
	}
	return int64(n * float64(mult)), nil
}

var durationUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseDuration parses "<decimal><unit>" (s/m/h/d family, spellable out in
// full) into a time.Duration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	numPart := s[:i]
	unitPart := strings.ToLower(strings.TrimSpace(s[i:]))

	if numPart == "" {
		return 0, fmt.Errorf("invalid duration %q: missing numeric part", s)
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	unit, ok := durationUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, unitPart)
	}
	return time.Duration(n * float64(unit)), nil
}

// ReconnectInterval is the [Min, Max] bound a minion picks a random
// reconnect delay from, parsed from "N" (Min == Max) or "N-M" (M >= N).
type ReconnectInterval struct {
	Min time.Duration
	Max time.Duration
}

// ParseReconnectInterval parses "N" or "N-M" (each side a ParseDuration
// value) into a ReconnectInterval, rejecting Max < Min.
func ParseReconnectInterval(s string) (ReconnectInterval, error) {
	s = strings.TrimSpace(s)
	before, after, hasRange := strings.Cut(s, "-")
	min, err := ParseDuration(before)
	if err != nil {
		return ReconnectInterval{}, err
	}
	if !hasRange {
		return ReconnectInterval{Min: min, Max: min}, nil
	}
	max, err := ParseDuration(after)
	if err != nil {
		return ReconnectInterval{}, err
	}
	if max < min {
		return ReconnectInterval{}, fmt.Errorf("invalid reconnect interval %q: max < min", s)
	}
	return ReconnectInterval{Min: min, Max: max}, nil
}
