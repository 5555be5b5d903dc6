package adapter

import "context"

type AlertKind string

const (
	AlertJobExpired        AlertKind = "job_expired"
	AlertDisputeOpened     AlertKind = "dispute_opened"
	AlertConflictingResult AlertKind = "conflicting_outcome"
	AlertGraceExpired      AlertKind = "grace_expired"
)

// Alert is an operational message for the operator channel.
type Alert struct {
	Kind   AlertKind
	JobID  string
	UserID string
	Text   string
}

// OperatorNotifier delivers alerts to humans. Implementations must be safe for concurrent use.
type OperatorNotifier interface {
	Notify(ctx context.Context, a Alert) error
}
