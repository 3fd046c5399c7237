package models

import "time"

// AuditAction is the kind of change an audit entry records.
type AuditAction string

const (
	AuditDeedCreated             AuditAction = "DEED_CREATED"
	AuditDeedUpdated             AuditAction = "DEED_UPDATED"
	AuditBorrowerAdded           AuditAction = "BORROWER_ADDED"
	AuditBorrowerRemoved         AuditAction = "BORROWER_REMOVED"
	AuditBorrowerSigned          AuditAction = "BORROWER_SIGNED"
	AuditCooperativeSignerAdded  AuditAction = "COOPERATIVE_SIGNER_ADDED"
	AuditCooperativeSignerSigned AuditAction = "COOPERATIVE_SIGNER_SIGNED"
	AuditDeedCompleted           AuditAction = "DEED_COMPLETED"
	AuditDeedDeleted             AuditAction = "DEED_DELETED"
)

// AuditLogEntry is one line of a deed's history.
type AuditLogEntry struct {
	ID          int64       `json:"id"`
	DeedID      int64       `json:"deed_id"`
	ActionType  AuditAction `json:"action_type"`
	UserID      string      `json:"user_id"`
	Description string      `json:"description"`
	Timestamp   time.Time   `json:"timestamp"`
}
