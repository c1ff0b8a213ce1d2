// Package classifier implements the Request Classifier (C2): a pure,
// stateless mapping from a request's routing-relevant metadata to a routing
// intent. It holds no state and talks to nothing — the same RequestMeta
// always produces the same RoutingIntent.
package classifier

import "github.com/noeticlab/noesis/internal/registry"

// Role describes why a completion is being requested. It is carried for
// observability only and never influences routing.
type Role string

const (
	RoleDraft            Role = "draft"
	RoleReviewLiterature Role = "review_literature"
	RoleRewrite          Role = "rewrite"
	RoleCritique         Role = "critique"
	RoleArbitrate        Role = "arbitrate"
	RoleMath             Role = "math"
	RoleGeneric          Role = "generic"
)

// RequestMeta is the routing contract attached to every completion request.
type RequestMeta struct {
	RequiresMath              bool
	RequiresHighQuality       bool
	RequiresPhdLevelReasoning bool
	HighBiasRisk              bool
	CriticalSection           bool
	OfflineRequired           bool
	EstimatedContextTokens    int
	Role                      Role
}

// RoutingIntent is the classifier's sole output, consumed by the router's
// candidate-selection pass.
type RoutingIntent struct {
	PreferredTier      registry.Tier
	MandatoryTier      registry.Tier // empty means "no mandatory tier"
	AllowLocalFallback bool
}

// Classify applies the five ordered rules to meta and returns the resulting
// intent. Rules are evaluated in order and the first rule that sets
// MandatoryTier wins; PreferredTier rules are independent of that and are
// evaluated in the same fixed order so the result is fully deterministic.
func Classify(meta RequestMeta) RoutingIntent {
	intent := RoutingIntent{
		AllowLocalFallback: true,
	}

	switch {
	case meta.OfflineRequired:
		intent.MandatoryTier = registry.Local
	case meta.HighBiasRisk && meta.CriticalSection:
		intent.MandatoryTier = registry.Premium
	}

	switch {
	case meta.OfflineRequired:
		intent.PreferredTier = registry.Local
	case meta.RequiresMath:
		intent.PreferredTier = registry.Specialist
	case meta.HighBiasRisk && meta.CriticalSection:
		intent.PreferredTier = registry.Premium
	case meta.RequiresPhdLevelReasoning || meta.RequiresHighQuality:
		intent.PreferredTier = registry.Premium
	default:
		intent.PreferredTier = registry.Default
	}

	// Mandatory escalations must never silently degrade below Default:
	// offline_required already forces Local (itself the fallback), and a
	// mandatory Premium escalation must not fall back to Local either.
	if intent.MandatoryTier == registry.Local || intent.MandatoryTier == registry.Premium {
		intent.AllowLocalFallback = false
	}

	return intent
}
