// Package quota implements the plan/usage gate evaluated before any
// outbound generation call.
package quota

import "github.com/quillbox/quillbox/pkg/models"

// FreeUsageLimit is the number of free-tier-limited generations a
// non-premium principal may perform.
const FreeUsageLimit = 10

// FeatureClass describes how an endpoint is gated.
type FeatureClass string

const (
	// FreeTierLimited features are capped for non-premium principals and
	// unlimited for premium ones.
	FreeTierLimited FeatureClass = "free-tier-limited"
	// PremiumOnly features are denied outright for non-premium principals.
	PremiumOnly FeatureClass = "premium-only"
)

// Deny reasons are surfaced verbatim to the client.
const (
	MsgFreeLimitReached = "You have reached your free usage limit. Please upgrade to premium."
	MsgPremiumOnly      = "This feature is only available for premium subscription."
)

// Decision is the outcome of a quota check. Denials are expected,
// user-facing results, not errors.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decide returns whether a principal with the given plan and usage count
// may use a feature of the given class. Must be called before invoking
// any generation adapter: a denied request performs no outbound call.
func Decide(plan models.Plan, usage int, class FeatureClass) Decision {
	switch class {
	case PremiumOnly:
		if plan != models.PlanPremium {
			return Decision{Allowed: false, Reason: MsgPremiumOnly}
		}
		return Decision{Allowed: true}
	case FreeTierLimited:
		if plan != models.PlanPremium && usage >= FreeUsageLimit {
			return Decision{Allowed: false, Reason: MsgFreeLimitReached}
		}
		return Decision{Allowed: true}
	default:
		// Unknown feature classes fail closed.
		return Decision{Allowed: false, Reason: MsgPremiumOnly}
	}
}
