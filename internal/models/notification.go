package models

import "time"

// NotificationKind enumerates workflow events delivered to portal inboxes.
type NotificationKind string

const (
	NotificationCaseAssigned       NotificationKind = "case_assigned"
	NotificationIncidentEscalated  NotificationKind = "incident_escalated"
	NotificationAssessmentApplied  NotificationKind = "assessment_applied"
	NotificationCaseMonitoring     NotificationKind = "case_monitoring"
	NotificationCaseReopened       NotificationKind = "case_reopened"
	NotificationCaseClosed         NotificationKind = "case_closed"
	NotificationMonitoringReminder NotificationKind = "monitoring_reminder"
	NotificationFeedbackReceived   NotificationKind = "feedback_received"
)

// NotificationEvent is a single inbox entry for one recipient.
type NotificationEvent struct {
	ID            string           `db:"id" json:"id"`
	RecipientRole UserRole         `db:"recipient_role" json:"recipient_role"`
	RecipientID   string           `db:"recipient_id" json:"recipient_id"`
	Kind          NotificationKind `db:"kind" json:"kind"`
	SubjectType   TargetType       `db:"subject_type" json:"subject_type"`
	SubjectID     string           `db:"subject_id" json:"subject_id"`
	Message       string           `db:"message" json:"message"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	ReadAt        *time.Time       `db:"read_at" json:"read_at"`
}

// Read reports whether the recipient has seen the event.
func (n *NotificationEvent) Read() bool {
	return n != nil && n.ReadAt != nil
}

// MaxNotificationPage caps a bounded inbox listing.
const MaxNotificationPage = 200

// NotificationFilter scopes inbox queries to one recipient. A zero Limit
// lists every matching event.
type NotificationFilter struct {
	RecipientRole UserRole
	RecipientID   string
	UnreadOnly    bool
	Limit         int
}

// PageSize returns the row cap every store applies; 0 means unbounded.
func (f NotificationFilter) PageSize() int {
	switch {
	case f.Limit <= 0:
		return 0
	case f.Limit > MaxNotificationPage:
		return MaxNotificationPage
	default:
		return f.Limit
	}
}
