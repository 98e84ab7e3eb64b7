/*
tier.go - VIP tier evaluation

PURPOSE:
  Determines which tier a client currently qualifies for from their ledger
  aggregates and a program's ordered tier thresholds, and detects
  transitions (promotions, and demotions under the strict policy).

SELECTION RULE:
  The highest tier for which ALL configured thresholds are satisfied by
  the same aggregate snapshot. A threshold of 0 is "not required". If no
  tier's requirements are fully met, the client has no tier; there is no
  implicit tier zero unless a program configures one at order 0 with zero
  thresholds.

DEMOTION:
  Whether a client can lose a tier when the monthly-spend window resets is
  a per-program policy: sticky (never decrease) or strict (recompute every
  evaluation). See program.go.
*/
package loyalty

import "sort"

// Meets reports whether the aggregates satisfy every configured threshold
// of the tier. Zero thresholds are automatically satisfied.
func (t Tier) Meets(agg TierAggregates) bool {
	if t.MinTotalSpent.IsPositive() && agg.TotalSpent.LessThan(t.MinTotalSpent) {
		return false
	}
	if t.MinVisits > 0 && agg.TotalVisits < t.MinVisits {
		return false
	}
	if t.MinMonthlySpent.IsPositive() && agg.MonthlySpent.LessThan(t.MinMonthlySpent) {
		return false
	}
	return true
}

// QualifiedTier returns the highest tier whose thresholds the aggregates
// fully satisfy, or nil if none qualify.
func QualifiedTier(tiers []Tier, agg TierAggregates) *Tier {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order > sorted[j].Order })

	for i := range sorted {
		if sorted[i].Meets(agg) {
			return &sorted[i]
		}
	}
	return nil
}

// TierChange describes the outcome of an evaluation.
type TierChange struct {
	From *Tier
	To   *Tier
}

func (c TierChange) Changed() bool {
	switch {
	case c.From == nil && c.To == nil:
		return false
	case c.From == nil || c.To == nil:
		return true
	default:
		return c.From.ID != c.To.ID
	}
}

// Promotion reports whether the change raises the client's tier.
func (c TierChange) Promotion() bool {
	if c.To == nil {
		return false
	}
	return c.From == nil || c.To.Order > c.From.Order
}

// EvaluateTier applies the program's demotion policy to the qualified tier.
// Under the sticky policy a client keeps their current tier when the
// qualified tier would be lower (or none).
func EvaluateTier(program Program, tiers []Tier, current *Tier, agg TierAggregates) TierChange {
	if !program.VIPTiersEnabled {
		return TierChange{From: current, To: current}
	}

	qualified := QualifiedTier(tiers, agg)

	if program.TierDemotion != DemoteStrict && current != nil {
		if qualified == nil || qualified.Order < current.Order {
			return TierChange{From: current, To: current}
		}
	}
	return TierChange{From: current, To: qualified}
}
