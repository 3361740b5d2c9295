package models

import "time"

// TargetType names the entity a parent acknowledges.
type TargetType string

const (
	TargetIncident TargetType = "incident"
	TargetCase     TargetType = "case"
)

// Valid reports whether the target type is known.
func (t TargetType) Valid() bool {
	return t == TargetIncident || t == TargetCase
}

// Acknowledgment is keyed by (target, parent) and never deleted.
type Acknowledgment struct {
	TargetType     TargetType `db:"target_type" json:"target_type"`
	TargetID       string     `db:"target_id" json:"target_id"`
	ParentID       string     `db:"parent_id" json:"parent_id"`
	Acknowledged   bool       `db:"acknowledged" json:"acknowledged"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at"`
	FeedbackText   *string    `db:"feedback_text" json:"feedback_text"`
	FeedbackSentAt *time.Time `db:"feedback_sent_at" json:"feedback_sent_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// AcknowledgmentKey identifies a single acknowledgment record.
type AcknowledgmentKey struct {
	TargetType TargetType
	TargetID   string
	ParentID   string
}

// Key returns the record key.
func (a *Acknowledgment) Key() AcknowledgmentKey {
	return AcknowledgmentKey{TargetType: a.TargetType, TargetID: a.TargetID, ParentID: a.ParentID}
}
