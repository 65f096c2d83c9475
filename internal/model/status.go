// internal/model/status.go
package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a DeliveryLog.
type Status string

const (
	StatusPending      Status = "pending"
	StatusFailed       Status = "failed"
	StatusSent         Status = "sent"
	StatusBounced      Status = "bounced"
	StatusDelivered    Status = "delivered"
	StatusSpamReported Status = "spam_reported"
	StatusOpened       Status = "opened"
	StatusClicked      Status = "clicked"
)

// statusOrder lists every status from lowest to highest priority.
// The index of a status is its priority.
var statusOrder = []Status{
	StatusPending,
	StatusFailed,
	StatusSent,
	StatusBounced,
	StatusDelivered,
	StatusSpamReported,
	StatusOpened,
	StatusClicked,
}

var statusPriority = func() map[Status]int {
	m := make(map[Status]int, len(statusOrder))
	for i, s := range statusOrder {
		m[s] = i
	}
	return m
}()

// Statuses returns all statuses ordered by ascending priority.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// Priority returns the rank of s, or -1 when s is not a known status.
func (s Status) Priority() int {
	p, ok := statusPriority[s]
	if !ok {
		return -1
	}
	return p
}

func (s Status) Valid() bool {
	_, ok := statusPriority[s]
	return ok
}

func (s Status) String() string { return string(s) }

// CanTransitionTo reports whether a log currently in s may move to next.
// pending is a placeholder that any real status overwrites; otherwise the
// new status must rank strictly higher.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || next == StatusPending {
		return false
	}
	if s == StatusPending {
		return true
	}
	return next.Priority() > s.Priority()
}

// ParseStatus converts a raw string into a known Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown delivery status %q", raw)
	}
	return s, nil
}
