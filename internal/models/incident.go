package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// IncidentSeverity grades how serious a behaviour incident was.
type IncidentSeverity string

const (
	SeverityLow    IncidentSeverity = "low"
	SeverityMedium IncidentSeverity = "medium"
	SeverityHigh   IncidentSeverity = "high"
)

// Valid reports whether the severity is known.
func (s IncidentSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// IncidentOutcome records how the reporting teacher left the incident.
type IncidentOutcome string

const (
	OutcomeResolved          IncidentOutcome = "resolved"
	OutcomePartiallyResolved IncidentOutcome = "partially_resolved"
	OutcomeUnresolved        IncidentOutcome = "unresolved"
	OutcomeEscalated         IncidentOutcome = "escalated"
)

// Valid reports whether the outcome is known.
func (o IncidentOutcome) Valid() bool {
	switch o {
	case OutcomeResolved, OutcomePartiallyResolved, OutcomeUnresolved, OutcomeEscalated:
		return true
	default:
		return false
	}
}

// Strategy is an intervention the teacher tried, in the order it was tried.
type Strategy struct {
	Name          string `json:"name"`
	Effectiveness string `json:"effectiveness"`
}

// Strategies is persisted as a JSONB array.
type Strategies []Strategy

// Value marshals strategies to JSON for persistence.
func (s Strategies) Value() (driver.Value, error) {
	if s == nil {
		s = Strategies{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal strategies: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON array into strategies.
func (s *Strategies) Scan(value interface{}) error {
	if value == nil {
		*s = Strategies{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported strategies type %T", value)
	}
	if len(data) == 0 {
		*s = Strategies{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// Incident is a single recorded behavioural event for a student.
type Incident struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	TeacherID   string           `db:"teacher_id" json:"teacher_id"`
	OccurredAt  time.Time        `db:"occurred_at" json:"occurred_at"`
	Location    string           `db:"location" json:"location"`
	Category    string           `db:"category" json:"category"`
	Severity    IncidentSeverity `db:"severity" json:"severity"`
	Description string           `db:"description" json:"description"`
	Notes       *string          `db:"notes" json:"notes,omitempty"`
	Strategies  Strategies       `db:"strategies" json:"strategies"`
	Outcome     IncidentOutcome  `db:"outcome" json:"outcome"`
	CaseID      *string          `db:"case_id" json:"case_id,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// Escalated reports whether a case has been linked to the incident.
func (i *Incident) Escalated() bool {
	return i != nil && i.CaseID != nil && *i.CaseID != ""
}

// IncidentFilter constrains incident listing.
type IncidentFilter struct {
	StudentID string
	TeacherID string
	Severity  []IncidentSeverity
	Limit     int
	Offset    int
}
