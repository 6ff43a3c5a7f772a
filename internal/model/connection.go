package model

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the three-valued connectivity belief about the board.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusUnresponsive Status = "unresponsive"
)

// Valid reports whether s is one of the enumerated values.
func (s Status) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusUnresponsive:
		return true
	}
	return false
}

// ConnectionState is the most recent poll result. LastHeartbeat is zero when
// the service did not report one.
type ConnectionState struct {
	Status        Status    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	Port          string    `json:"port,omitempty"`
	Message       string    `json:"message"`
}

// Connected reports whether the board is believed reachable.
func (s ConnectionState) Connected() bool { return s.Status == StatusConnected }

// Freshness renders the heartbeat age relative to now, e.g. "3 seconds ago".
// It returns "" when no heartbeat is known.
func (s ConnectionState) Freshness(now time.Time) string {
	if s.LastHeartbeat.IsZero() {
		return ""
	}
	return humanize.RelTime(s.LastHeartbeat, now, "ago", "from now")
}

// SameDisplay reports whether a and b would render identically at now.
// A heartbeat that moved without changing its humanized age is not a change.
func SameDisplay(a, b ConnectionState, now time.Time) bool {
	return a.Status == b.Status &&
		a.Port == b.Port &&
		a.Message == b.Message &&
		a.Freshness(now) == b.Freshness(now)
}
