package model

import (
	"time"

	"render-credit-platform/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive        SubscriptionStatus = "active"
	SubscriptionStatusPaymentFailed SubscriptionStatus = "payment_failed"
	SubscriptionStatusGracePeriod   SubscriptionStatus = "grace_period"
	SubscriptionStatusCancelled     SubscriptionStatus = "cancelled"
)

type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingAnnual  BillingPeriod = "annual"
)

func (p BillingPeriod) Valid() bool { return p == BillingMonthly || p == BillingAnnual }

// Subscription is a user's billing relationship with the payment processor.
type Subscription struct {
	UserID                  string
	PlanID                  string
	Period                  BillingPeriod
	Status                  SubscriptionStatus
	ProcessorSubscriptionID *string
	CurrentPeriodEnd        *time.Time
	FrozenCredits           *int64     // set only while in grace_period
	GracePeriodEnd          *time.Time // set only while in grace_period
	PendingDowngradePlan    *string
	PendingDowngradeAt      *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Validate checks the cross-field invariants that must hold before a save.
func (s *Subscription) Validate() error {
	if s.UserID == "" || s.PlanID == "" {
		return domain.ErrInvalidArgument
	}
	grace := s.Status == SubscriptionStatusGracePeriod
	if !grace && (s.FrozenCredits != nil || s.GracePeriodEnd != nil) {
		return domain.ErrInvalidArgument
	}
	if grace && (s.FrozenCredits == nil || s.GracePeriodEnd == nil) {
		return domain.ErrInvalidArgument
	}
	if (s.PendingDowngradePlan == nil) != (s.PendingDowngradeAt == nil) {
		return domain.ErrInvalidArgument
	}
	return nil
}

// InGraceWindow reports whether frozen credits can still be restored at now.
func (s *Subscription) InGraceWindow(now time.Time) bool {
	return s.Status == SubscriptionStatusGracePeriod && s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}

func (s *Subscription) ClearGrace() {
	s.FrozenCredits = nil
	s.GracePeriodEnd = nil
}

func (s *Subscription) ClearPendingDowngrade() {
	s.PendingDowngradePlan = nil
	s.PendingDowngradeAt = nil
}

// DowngradeDue is true when a deferred downgrade has reached its boundary.
func (s *Subscription) DowngradeDue(now time.Time) bool {
	return s.PendingDowngradePlan != nil && s.PendingDowngradeAt != nil && !now.Before(*s.PendingDowngradeAt)
}
