package model

import "time"

const (
	EventSourceBilling  = "billing"
	EventSourceInternal = "internal"
)

type EventOutcome string

const (
	EventOutcomeApplied   EventOutcome = "applied"   // caused a state change
	EventOutcomeNoop      EventOutcome = "noop"      // valid, but state already final
	EventOutcomeDuplicate EventOutcome = "duplicate" // replay of a processed event
	EventOutcomeUnmatched EventOutcome = "unmatched" // no job or subscription to act on
	EventOutcomeIgnored   EventOutcome = "ignored"   // event type we do not act on
	EventOutcomeReserved  EventOutcome = "reserved"  // reserved, outcome not yet written
)

// ProcessedEvent is the idempotency record for an inbound event.
type ProcessedEvent struct {
	Source      string
	EventID     string
	Outcome     EventOutcome
	JobID       *string
	ProcessedAt time.Time
}

// Ack is returned to the sender of an event.
type Ack struct {
	EventID string
	Outcome EventOutcome
	JobID   string
}
