package status

import "strings"

// Status is the closed vocabulary all business logic operates on.
// Raw feed strings are mapped onto it by Normalize and nothing else
// in the application pattern-matches on raw text.
type Status int

const (
	// Unknown is the implicit state of an endpoint before its first
	// observation. Normalize never returns it.
	Unknown Status = iota
	Online
	Offline
	Partial
)

// String returns the lowercase name used in logs and the audit table.
func (s Status) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Partial:
		return "partial"
	default:
		return "unknown"
	}
}

// Normalize maps a raw status string from the feed to a Status.
// Rules are evaluated in order, first match wins, case-insensitive
// substring matching. Anything unrecognized maps to Offline so a new
// upstream phrasing surfaces as a problem instead of silently passing
// as healthy.
//
// "not in use" is checked before "in use": the raw data uses both
// phrases and the longer one must not be swallowed by the substring
// check for the shorter.
func Normalize(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Offline
	}
	if strings.Contains(s, "unavailable") || strings.Contains(s, "0 of") {
		return Offline
	}
	if strings.Contains(s, "not in use") {
		return Online
	}
	if strings.Contains(s, "in use") || strings.Contains(s, "busy") {
		return Partial
	}
	if strings.Contains(s, "available") {
		return Online
	}
	if strings.Contains(s, "online") || strings.Contains(s, "active") || strings.Contains(s, "up") {
		return Online
	}
	return Offline
}
