/*
program.go - Program Registry: loyalty program and VIP tier configuration

PURPOSE:
  Holds per-salon program configuration (cashback model, points model,
  VIP tiers) and the ordered tier ladder. Pure configuration store; the
  registry validates every write and never touches the ledger.

VALIDATION:
  A tier ladder must be strictly ordered: order unique within the program,
  and every threshold non-decreasing as order increases. A higher tier with
  a lower requirement is a configuration error, rejected before any write,
  not a runtime condition to special-case.

TIER DELETION:
  Deleting a tier that clients currently hold is a conflict. Callers either
  reassign members first, or pass Reassign to cascade holders onto the next
  lower tier (or no tier) in the same operation.
*/
package loyalty

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROGRAM - Salon-scoped rewards configuration
// =============================================================================

type CashbackType string

const (
	CashbackPercentage CashbackType = "percentage"
	CashbackFixed      CashbackType = "fixed"
)

// DemotionPolicy controls what happens when a client's aggregates fall
// below their current tier's thresholds (the monthly-spend window resets).
type DemotionPolicy string

const (
	// DemoteNever: tiers never decrease once reached.
	DemoteNever DemotionPolicy = "sticky"
	// DemoteStrict: the tier is recomputed on every evaluation.
	DemoteStrict DemotionPolicy = "strict"
)

type Program struct {
	ID       ProgramID
	SalonID  SalonID
	Name     string
	IsActive bool

	CashbackEnabled bool
	CashbackType    CashbackType
	CashbackValue   decimal.Decimal // percent or fixed currency amount

	PointsEnabled        bool
	PointsPerCurrencyUnit decimal.Decimal

	VIPTiersEnabled bool
	TierDemotion    DemotionPolicy

	// Expiry windows in days; 0 = never expires.
	CashbackExpiryDays int
	PointsExpiryDays   int

	// Settlement hold for cashback credits (return window); 0 = immediate.
	CashbackHoldDays int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// TIER - One rung of a program's VIP ladder
// =============================================================================

// Capability is a named tier benefit. Tiers grant a small fixed set of
// capabilities, modeled as an explicit set rather than free-form booleans.
type Capability string

const (
	CapPriorityBooking   Capability = "priority_booking"
	CapExclusiveServices Capability = "exclusive_services"
)

type Tier struct {
	ID        TierID
	ProgramID ProgramID
	Order     int // unique within program; ascending = higher tier
	Name      string

	// Requirements, all "at least"; 0 = not required. A client must meet
	// every configured threshold with the same aggregate snapshot.
	MinTotalSpent   decimal.Decimal
	MinVisits       int
	MinMonthlySpent decimal.Decimal

	// Benefits.
	CashbackMultiplier decimal.Decimal // >= 1.0
	DiscountPercentage decimal.Decimal // [0, 100]
	Capabilities       []Capability

	// One-time cashback credit granted when a client is promoted into this
	// tier. Zero = no bonus.
	PromotionBonus decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCapability reports whether the tier grants a capability.
func (t Tier) HasCapability(c Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Multiplier returns the cashback multiplier to apply for a tier, which may
// be nil (no tier = 1.0).
func Multiplier(t *Tier) decimal.Decimal {
	if t == nil || t.CashbackMultiplier.IsZero() {
		return decimal.NewFromInt(1)
	}
	return t.CashbackMultiplier
}

// =============================================================================
// REGISTRY - Validated configuration writes
// =============================================================================

type Registry struct {
	Programs ProgramStore
	Balances Store
	Now      func() time.Time
}

func NewRegistry(programs ProgramStore, balances Store) *Registry {
	return &Registry{Programs: programs, Balances: balances, Now: time.Now}
}

// CreateProgram validates and persists a new program.
func (r *Registry) CreateProgram(ctx context.Context, p Program) (Program, error) {
	if err := validateProgram(p); err != nil {
		return Program{}, err
	}
	if p.TierDemotion == "" {
		p.TierDemotion = DemoteNever
	}
	now := r.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := r.Programs.SaveProgram(ctx, p); err != nil {
		return Program{}, err
	}
	return p, nil
}

// UpdateProgram validates and persists changes to an existing program.
// Programs are soft-deactivated via IsActive, never hard-deleted while
// balances reference them.
func (r *Registry) UpdateProgram(ctx context.Context, p Program) (Program, error) {
	existing, err := r.Programs.GetProgram(ctx, p.ID)
	if err != nil {
		return Program{}, err
	}
	if existing == nil {
		return Program{}, ErrProgramNotFound
	}
	if err := validateProgram(p); err != nil {
		return Program{}, err
	}
	if p.TierDemotion == "" {
		p.TierDemotion = existing.TierDemotion
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = r.Now()
	if err := r.Programs.SaveProgram(ctx, p); err != nil {
		return Program{}, err
	}
	return p, nil
}

// GetProgram returns a program or ErrProgramNotFound.
func (r *Registry) GetProgram(ctx context.Context, id ProgramID) (Program, error) {
	p, err := r.Programs.GetProgram(ctx, id)
	if err != nil {
		return Program{}, err
	}
	if p == nil {
		return Program{}, ErrProgramNotFound
	}
	return *p, nil
}

// Tiers returns a program's ladder sorted ascending by order.
func (r *Registry) Tiers(ctx context.Context, programID ProgramID) ([]Tier, error) {
	return r.Programs.ListTiers(ctx, programID)
}

// CreateTier validates a tier against its siblings and persists it.
// No partial write occurs on a validation failure.
func (r *Registry) CreateTier(ctx context.Context, t Tier) (Tier, error) {
	if _, err := r.GetProgram(ctx, t.ProgramID); err != nil {
		return Tier{}, err
	}
	siblings, err := r.Programs.ListTiers(ctx, t.ProgramID)
	if err != nil {
		return Tier{}, err
	}
	for _, s := range siblings {
		if s.Order == t.Order {
			return Tier{}, &ValidationError{Field: "order", Message: fmt.Sprintf("order %d already used by tier %q", t.Order, s.Name)}
		}
	}
	if err := validateLadder(append(siblings, t)); err != nil {
		return Tier{}, err
	}
	now := r.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := r.Programs.SaveTier(ctx, t); err != nil {
		return Tier{}, err
	}
	return t, nil
}

// UpdateTier validates the changed tier within the existing ladder.
func (r *Registry) UpdateTier(ctx context.Context, t Tier) (Tier, error) {
	existing, err := r.Programs.GetTier(ctx, t.ID)
	if err != nil {
		return Tier{}, err
	}
	if existing == nil {
		return Tier{}, ErrTierNotFound
	}
	t.ProgramID = existing.ProgramID
	siblings, err := r.Programs.ListTiers(ctx, t.ProgramID)
	if err != nil {
		return Tier{}, err
	}
	ladder := make([]Tier, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == t.ID {
			continue
		}
		if s.Order == t.Order {
			return Tier{}, &ValidationError{Field: "order", Message: fmt.Sprintf("order %d already used by tier %q", t.Order, s.Name)}
		}
		ladder = append(ladder, s)
	}
	if err := validateLadder(append(ladder, t)); err != nil {
		return Tier{}, err
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = r.Now()
	if err := r.Programs.SaveTier(ctx, t); err != nil {
		return Tier{}, err
	}
	return t, nil
}

// DeleteTierOptions controls cascade behavior for DeleteTier.
type DeleteTierOptions struct {
	// Reassign moves current holders to the next lower tier (or no tier)
	// instead of failing with a ConflictError.
	Reassign bool
}

// DeleteTier removes a tier. If any client currently holds it, the call
// fails with a ConflictError unless opts.Reassign is set, in which case
// holders cascade to the next lower tier in the same operation.
func (r *Registry) DeleteTier(ctx context.Context, id TierID, opts DeleteTierOptions) error {
	tier, err := r.Programs.GetTier(ctx, id)
	if err != nil {
		return err
	}
	if tier == nil {
		return ErrTierNotFound
	}

	holders, err := r.tierHolders(ctx, *tier)
	if err != nil {
		return err
	}
	if len(holders) > 0 && !opts.Reassign {
		return &ConflictError{
			Resource: "tier",
			Message:  fmt.Sprintf("%d client(s) currently hold tier %q; reassign them first", len(holders), tier.Name),
		}
	}

	if len(holders) > 0 {
		lower := r.nextLowerTier(ctx, *tier)
		for _, bal := range holders {
			if err := r.reassignHolder(ctx, bal, lower); err != nil {
				return err
			}
		}
	}

	return r.Programs.DeleteTier(ctx, id)
}

// reassignHolder moves one balance onto the replacement tier. A version
// conflict means the Ledger wrote the row since we listed holders; the
// cascade re-reads and retries so it never stops half-applied.
func (r *Registry) reassignHolder(ctx context.Context, bal ClientBalance, lower *TierID) error {
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		bal.CurrentTierID = lower
		bal.UpdatedAt = r.Now()
		err := r.Balances.PutBalance(ctx, bal, bal.Version)
		if err == nil || !IsRetryable(err) {
			return err
		}

		fresh, gerr := r.Balances.GetBalance(ctx, bal.ClientID, bal.ProgramID)
		if gerr != nil {
			return gerr
		}
		if fresh == nil {
			return nil
		}
		bal = *fresh
	}
	return fmt.Errorf("reassign tier for client %s: %w", bal.ClientID, ErrConcurrentModification)
}

func (r *Registry) tierHolders(ctx context.Context, tier Tier) ([]ClientBalance, error) {
	balances, err := r.Balances.ListBalancesByProgram(ctx, tier.ProgramID)
	if err != nil {
		return nil, err
	}
	var holders []ClientBalance
	for _, b := range balances {
		if b.CurrentTierID != nil && *b.CurrentTierID == tier.ID {
			holders = append(holders, b)
		}
	}
	return holders, nil
}

func (r *Registry) nextLowerTier(ctx context.Context, tier Tier) *TierID {
	tiers, err := r.Programs.ListTiers(ctx, tier.ProgramID)
	if err != nil {
		return nil
	}
	var lower *Tier
	for i := range tiers {
		t := tiers[i]
		if t.ID == tier.ID || t.Order >= tier.Order {
			continue
		}
		if lower == nil || t.Order > lower.Order {
			lower = &t
		}
	}
	if lower == nil {
		return nil
	}
	id := lower.ID
	return &id
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateProgram(p Program) error {
	if p.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if p.SalonID == "" {
		return &ValidationError{Field: "salonId", Message: "must not be empty"}
	}
	if p.CashbackEnabled {
		switch p.CashbackType {
		case CashbackPercentage:
			if p.CashbackValue.IsNegative() || p.CashbackValue.GreaterThan(decimal.NewFromInt(100)) {
				return &ValidationError{Field: "cashbackValue", Message: "percentage must be in [0, 100]"}
			}
		case CashbackFixed:
			if p.CashbackValue.IsNegative() {
				return &ValidationError{Field: "cashbackValue", Message: "fixed amount must not be negative"}
			}
		default:
			return &ValidationError{Field: "cashbackType", Message: "must be percentage or fixed"}
		}
	}
	if p.PointsEnabled && p.PointsPerCurrencyUnit.IsNegative() {
		return &ValidationError{Field: "pointsPerCurrencyUnit", Message: "must not be negative"}
	}
	if p.TierDemotion != "" && p.TierDemotion != DemoteNever && p.TierDemotion != DemoteStrict {
		return &ValidationError{Field: "tierDemotion", Message: "must be sticky or strict"}
	}
	if p.CashbackExpiryDays < 0 {
		return &ValidationError{Field: "cashbackExpiryDays", Message: "must not be negative"}
	}
	if p.PointsExpiryDays < 0 {
		return &ValidationError{Field: "pointsExpiryDays", Message: "must not be negative"}
	}
	if p.CashbackHoldDays < 0 {
		return &ValidationError{Field: "cashbackHoldDays", Message: "must not be negative"}
	}
	return nil
}

// validateLadder checks one tier's fields and the cross-tier monotonicity
// invariant: thresholds never decrease as order increases.
func validateLadder(tiers []Tier) error {
	for _, t := range tiers {
		if t.Name == "" {
			return &ValidationError{Field: "name", Message: "must not be empty"}
		}
		if t.Order < 0 {
			return &ValidationError{Field: "order", Message: "must not be negative"}
		}
		if t.MinTotalSpent.IsNegative() {
			return &ValidationError{Field: "minTotalSpent", Message: "must not be negative"}
		}
		if t.MinVisits < 0 {
			return &ValidationError{Field: "minVisits", Message: "must not be negative"}
		}
		if t.MinMonthlySpent.IsNegative() {
			return &ValidationError{Field: "minMonthlySpent", Message: "must not be negative"}
		}
		if !t.CashbackMultiplier.IsZero() && t.CashbackMultiplier.LessThan(decimal.NewFromInt(1)) {
			return &ValidationError{Field: "cashbackMultiplier", Message: "must be at least 1.0"}
		}
		if t.DiscountPercentage.IsNegative() || t.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: "discountPercentage", Message: "must be in [0, 100]"}
		}
		if t.PromotionBonus.IsNegative() {
			return &ValidationError{Field: "promotionBonus", Message: "must not be negative"}
		}
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for i := 1; i < len(sorted); i++ {
		lo, hi := sorted[i-1], sorted[i]
		if hi.MinTotalSpent.LessThan(lo.MinTotalSpent) {
			return &ValidationError{Field: "minTotalSpent",
				Message: fmt.Sprintf("tier %q (order %d) requires less than tier %q (order %d)", hi.Name, hi.Order, lo.Name, lo.Order)}
		}
		if hi.MinVisits < lo.MinVisits {
			return &ValidationError{Field: "minVisits",
				Message: fmt.Sprintf("tier %q (order %d) requires less than tier %q (order %d)", hi.Name, hi.Order, lo.Name, lo.Order)}
		}
		if hi.MinMonthlySpent.LessThan(lo.MinMonthlySpent) {
			return &ValidationError{Field: "minMonthlySpent",
				Message: fmt.Sprintf("tier %q (order %d) requires less than tier %q (order %d)", hi.Name, hi.Order, lo.Name, lo.Order)}
		}
	}
	return nil
}
