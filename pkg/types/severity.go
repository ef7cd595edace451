package types

import (
	"fmt"
	"strings"
)

// Severity is the coverage-based fire grade
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = map[Severity]string{
	SeverityNone:   "None",
	SeverityLow:    "Low",
	SeverityMedium: "Medium",
	SeverityHigh:   "High",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "Unknown"
}

// EventLabel returns the persisted form (LOW, MEDIUM, HIGH).
func (s Severity) EventLabel() string {
	return NormalizeSeverity(s.String())
}

// MarshalText renders the display name used by the status API
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NormalizeSeverity uppercases a severity value and maps anything outside
// LOW/MEDIUM/HIGH to HIGH.
func NormalizeSeverity(s string) string {
	switch v := strings.ToUpper(strings.TrimSpace(s)); v {
	case "LOW", "MEDIUM", "HIGH":
		return v
	default:
		return "HIGH"
	}
}

// ParseSeverity is the inverse of String, case-insensitive
func ParseSeverity(s string) (Severity, error) {
	for sev, name := range severityNames {
		if strings.EqualFold(name, s) {
			return sev, nil
		}
	}
	return SeverityNone, fmt.Errorf("invalid severity: %s", s)
}

// RegionClass is the liveness verdict for one candidate region
type RegionClass int

const (
	// ClassUnverified marks a box accepted without a prior frame to compare against
	ClassUnverified RegionClass = iota
	ClassStatic
	ClassShaking
	ClassRealFire
)

var regionClassNames = map[RegionClass]string{
	ClassUnverified: "Unverified",
	ClassStatic:     "Static (Fake)",
	ClassShaking:    "Shaking (Fake)",
	ClassRealFire:   "Real Fire",
}

func (c RegionClass) String() string {
	if name, ok := regionClassNames[c]; ok {
		return name
	}
	return "Unknown"
}

// IsDecoy reports whether the class rejects the region as fake
func (c RegionClass) IsDecoy() bool {
	return c == ClassStatic || c == ClassShaking
}
