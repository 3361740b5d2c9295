package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// CaseStatus captures the expert review lifecycle of an escalated incident.
type CaseStatus string

const (
	CaseStatusPendingAssignment CaseStatus = "PENDING_ASSIGNMENT"
	CaseStatusUnderReview       CaseStatus = "UNDER_REVIEW"
	CaseStatusMonitoring        CaseStatus = "MONITORING"
	CaseStatusClosed            CaseStatus = "CLOSED"
)

var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusPendingAssignment: {CaseStatusUnderReview},
	CaseStatusUnderReview:       {CaseStatusMonitoring, CaseStatusClosed},
	CaseStatusMonitoring:        {CaseStatusUnderReview, CaseStatusClosed},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, candidate := range caseTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Open reports whether the case still accepts expert input.
func (s CaseStatus) Open() bool {
	return s == CaseStatusUnderReview || s == CaseStatusMonitoring
}

// CaseMonitoring stores the reduced-oversight window set by the expert.
type CaseMonitoring struct {
	Active       bool      `json:"active"`
	DurationDays int       `json:"duration_days"`
	Notes        string    `json:"notes,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Value marshals monitoring details to JSON.
func (m CaseMonitoring) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal case monitoring: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON object into monitoring details.
func (m *CaseMonitoring) Scan(value interface{}) error {
	if value == nil {
		*m = CaseMonitoring{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported monitoring type %T", value)
	}
	if len(data) == 0 {
		*m = CaseMonitoring{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Case is an expert-reviewed escalation wrapping one or more incidents.
type Case struct {
	ID                    string           `db:"id" json:"id"`
	IncidentID            string           `db:"incident_id" json:"incident_id"`
	IncidentIDs           pq.StringArray   `db:"incident_ids" json:"incident_ids"`
	StudentID             string           `db:"student_id" json:"student_id"`
	TeacherID             string           `db:"teacher_id" json:"teacher_id"`
	ExpertID              string           `db:"expert_id" json:"expert_id"`
	Status                CaseStatus       `db:"status" json:"status"`
	Severity              IncidentSeverity `db:"severity" json:"severity"`
	EscalationNote        *string          `db:"escalation_note" json:"escalation_note,omitempty"`
	Assessment            *string          `db:"assessment" json:"assessment,omitempty"`
	RecommendedTriggers   pq.StringArray   `db:"recommended_triggers" json:"recommended_triggers"`
	RecommendedStrategies pq.StringArray   `db:"recommended_strategies" json:"recommended_strategies"`
	AssessedAt            *time.Time       `db:"assessed_at" json:"assessed_at,omitempty"`
	Monitoring            *CaseMonitoring  `db:"monitoring" json:"monitoring,omitempty"`
	FollowUpAt            *time.Time       `db:"follow_up_at" json:"follow_up_at,omitempty"`
	ReminderSentAt        *time.Time       `db:"reminder_sent_at" json:"reminder_sent_at,omitempty"`
	ClosingNotes          *string          `db:"closing_notes" json:"closing_notes,omitempty"`
	ClosedAt              *time.Time       `db:"closed_at" json:"closed_at,omitempty"`
	ParentAcknowledged    bool             `db:"parent_acknowledged" json:"parent_acknowledged"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// HasIncident reports whether the incident is linked to the case.
func (c *Case) HasIncident(incidentID string) bool {
	for _, id := range c.IncidentIDs {
		if id == incidentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.IncidentIDs = append(pq.StringArray(nil), c.IncidentIDs...)
	out.RecommendedTriggers = append(pq.StringArray(nil), c.RecommendedTriggers...)
	out.RecommendedStrategies = append(pq.StringArray(nil), c.RecommendedStrategies...)
	if c.Monitoring != nil {
		m := *c.Monitoring
		out.Monitoring = &m
	}
	return &out
}

// CaseFilter constrains case listing.
type CaseFilter struct {
	ExpertID  string
	StudentID string
	Status    []CaseStatus
	Limit     int
	Offset    int
}

// CaseStatusUpdate describes a compare-and-set status change. Only non-nil
// optional fields are written.
type CaseStatusUpdate struct {
	ID            string
	From          CaseStatus
	To            CaseStatus
	Monitoring    *CaseMonitoring
	FollowUpAt    *time.Time
	ClearFollowUp bool
	ClosingNotes  *string
	ClosedAt      *time.Time
	AddIncidentID string
	UpdatedAt     time.Time
}

// CaseAssessmentUpdate stores the expert assessment without touching status.
type CaseAssessmentUpdate struct {
	ID                    string
	Notes                 string
	RecommendedTriggers   []string
	RecommendedStrategies []string
	Severity              *IncidentSeverity
	AssessedAt            time.Time
}
