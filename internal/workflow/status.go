package workflow

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a ticket. The string values are the vocabulary shared with
// UI collaborators and change feed filters.
type Status string

const (
	StatusSubmitted    Status = "submitted"
	StatusAcknowledged Status = "acknowledged"
	StatusInProgress   Status = "in_progress"
	StatusResolved     Status = "resolved"
	StatusRejected     Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusSubmitted,
	StatusAcknowledged,
	StatusInProgress,
	StatusResolved,
	StatusRejected,
}

// ParseStatus converts a token into a Status.
func ParseStatus(value string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", fmt.Errorf("workflow: unknown status %q", value)
	}
	return status, nil
}

// Valid reports whether s belongs to the status vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusAcknowledged, StatusInProgress, StatusResolved, StatusRejected:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

func (s Status) String() string {
	return string(s)
}

// Category classifies the kind of work a ticket asks for.
type Category string

const (
	CategoryMaterial Category = "material"
	CategoryIncident Category = "incident"
	CategoryQuestion Category = "question"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMaterial, CategoryIncident, CategoryQuestion:
		return true
	default:
		return false
	}
}

// Priority orders tickets by urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Value implements driver.Valuer so statuses persist as their token.
func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*s = Status(v)
	case []byte:
		*s = Status(v)
	case nil:
		*s = ""
	default:
		return fmt.Errorf("workflow: cannot scan %T into Status", src)
	}
	return nil
}
