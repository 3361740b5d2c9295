package dto

// CaseListQuery binds case listing filters from the query string.
type CaseListQuery struct {
	ExpertID  string   `form:"expertId"`
	StudentID string   `form:"studentId"`
	Status    []string `form:"status"`
	Limit     int      `form:"limit"`
	Offset    int      `form:"offset"`
}

// AcknowledgmentQuery identifies the incident or case whose status a parent reads.
type AcknowledgmentQuery struct {
	TargetType string `form:"targetType" binding:"required"`
	TargetID   string `form:"targetId" binding:"required"`
}

// NotificationListQuery selects the caller's inbox view.
type NotificationListQuery struct {
	Unread bool `form:"unread"`
	Limit  int  `form:"limit"`
}

// UnreadCountResponse is the inbox badge payload.
type UnreadCountResponse struct {
	Unread int `json:"unread"`
}

// MarkAllReadResponse reports how many events were marked read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}
