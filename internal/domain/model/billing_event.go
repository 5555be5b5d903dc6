package model

import "time"

type BillingEventType string

const (
	BillingCheckoutCompleted   BillingEventType = "checkout_completed"
	BillingRenewalPaid         BillingEventType = "renewal_paid"
	BillingPaymentFailed       BillingEventType = "payment_failed"
	BillingPlanChanged         BillingEventType = "plan_changed"
	BillingSubscriptionDeleted BillingEventType = "subscription_deleted"
	BillingIgnored             BillingEventType = "ignored"
)

// BillingEvent is a payment-processor callback normalized to the billing state machine.
type BillingEvent struct {
	ID                      string // processor event id, the idempotency key
	Type                    BillingEventType
	RawType                 string
	UserID                  string
	PlanID                  string
	Period                  BillingPeriod
	ProcessorSubscriptionID string
	CurrentPeriodEnd        *time.Time
	OccurredAt              time.Time
}
