package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"render-credit-platform/internal/domain"
	"render-credit-platform/internal/domain/model"
)

// Metadata keys the checkout flow stamps on sessions and subscriptions.
const (
	MetaUserID = "user_id"
	MetaPlanID = "plan_id"
	MetaPeriod = "billing_period"
)

// StripeParser verifies Stripe-Signature headers and normalizes Stripe events
// into billing events. Event types it does not act on come back as BillingIgnored.
type StripeParser struct {
	secret    string
	tolerance time.Duration
}

func NewStripeParser(webhookSecret string) *StripeParser {
	return &StripeParser{secret: webhookSecret, tolerance: webhook.DefaultTolerance}
}

func (p *StripeParser) Parse(payload []byte, signature string) (model.BillingEvent, error) {
	if p.secret == "" {
		return model.BillingEvent{}, fmt.Errorf("%w: stripe webhook secret not configured", domain.ErrUnauthorized)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return model.BillingEvent{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
		}
		return model.BillingEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return Normalize(ev)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// Normalize maps a verified Stripe event onto the billing state machine's vocabulary.
func Normalize(ev stripe.Event) (model.BillingEvent, error) {
	out := model.BillingEvent{
		ID:         ev.ID,
		Type:       model.BillingIgnored,
		RawType:    string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
	if ev.ID == "" {
		return out, fmt.Errorf("%w: event without id", domain.ErrMalformedPayload)
	}
	if ev.Data == nil {
		return out, nil
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("%w: checkout session: %v", domain.ErrMalformedPayload, err)
		}
		if s.Mode != stripe.CheckoutSessionModeSubscription {
			return out, nil
		}
		out.Type = model.BillingCheckoutCompleted
		out.UserID = firstNonEmpty(s.ClientReferenceID, s.Metadata[MetaUserID])
		out.PlanID = s.Metadata[MetaPlanID]
		out.Period = model.BillingPeriod(s.Metadata[MetaPeriod])
		if s.Subscription != nil {
			out.ProcessorSubscriptionID = s.Subscription.ID
		}

	case stripe.EventTypeCustomerSubscriptionUpdated, stripe.EventTypeCustomerSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("%w: subscription: %v", domain.ErrMalformedPayload, err)
		}
		if ev.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			out.Type = model.BillingSubscriptionDeleted
		} else if _, changed := ev.Data.PreviousAttributes["items"]; changed {
			out.Type = model.BillingPlanChanged
		} else {
			return out, nil
		}
		out.UserID = s.Metadata[MetaUserID]
		out.ProcessorSubscriptionID = s.ID
		out.PlanID = s.Metadata[MetaPlanID]
		out.Period = model.BillingPeriod(s.Metadata[MetaPeriod])
		if s.Items != nil && len(s.Items.Data) > 0 {
			item := s.Items.Data[0]
			if item.Price != nil {
				// the price id identifies the new plan after a change
				if out.Type == model.BillingPlanChanged || out.PlanID == "" {
					out.PlanID = item.Price.ID
				}
				if item.Price.Recurring != nil {
					out.Period = periodFromInterval(string(item.Price.Recurring.Interval))
				}
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
				out.CurrentPeriodEnd = &end
			}
		}

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentFailed:
		var inv invoicePayload
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return out, fmt.Errorf("%w: invoice: %v", domain.ErrMalformedPayload, err)
		}
		if ev.Type == stripe.EventTypeInvoicePaymentFailed {
			out.Type = model.BillingPaymentFailed
		} else if inv.BillingReason == "subscription_cycle" {
			out.Type = model.BillingRenewalPaid
		} else {
			// the first invoice is covered by checkout.session.completed
			return out, nil
		}
		meta, subID := inv.subscription()
		out.UserID = meta[MetaUserID]
		out.PlanID = meta[MetaPlanID]
		out.Period = model.BillingPeriod(meta[MetaPeriod])
		out.ProcessorSubscriptionID = subID
		if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
			end := time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	return out, nil
}

// invoicePayload decodes only the invoice fields billing needs. Stripe moved the
// subscription reference under parent.subscription_details; both shapes are read.
type invoicePayload struct {
	BillingReason       string          `json:"billing_reason"`
	Subscription        json.RawMessage `json:"subscription"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Metadata     map[string]string `json:"metadata"`
			Subscription json.RawMessage   `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv invoicePayload) subscription() (map[string]string, string) {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		d := inv.Parent.SubscriptionDetails
		return d.Metadata, expandableID(d.Subscription)
	}
	var meta map[string]string
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	return meta, expandableID(inv.Subscription)
}

// expandableID reads a Stripe reference that is either "sub_123" or {"id":"sub_123",...}.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if json.Unmarshal(raw, &id) == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.ID
	}
	return ""
}

func periodFromInterval(interval string) model.BillingPeriod {
	if strings.EqualFold(interval, "year") {
		return model.BillingAnnual
	}
	return model.BillingMonthly
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
