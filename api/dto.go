/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - loyalty/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// =============================================================================
// PROGRAM TYPES
// =============================================================================

// ProgramDTO represents a loyalty program in API responses.
type ProgramDTO struct {
	ID                    string `json:"id"`
	SalonID               string `json:"salon_id"`
	Name                  string `json:"name"`
	IsActive              bool   `json:"is_active"`
	CashbackEnabled       bool   `json:"cashback_enabled"`
	CashbackType          string `json:"cashback_type,omitempty"`
	CashbackValue         string `json:"cashback_value,omitempty"`
	PointsEnabled         bool   `json:"points_enabled"`
	PointsPerCurrencyUnit string `json:"points_per_currency_unit,omitempty"`
	VIPTiersEnabled       bool   `json:"vip_tiers_enabled"`
	TierDemotion          string `json:"tier_demotion"`
	CashbackExpiryDays    int    `json:"cashback_expiry_days"`
	PointsExpiryDays      int    `json:"points_expiry_days"`
	CashbackHoldDays      int    `json:"cashback_hold_days"`
	CreatedAt             string `json:"created_at,omitempty"`
	UpdatedAt             string `json:"updated_at,omitempty"`
}

// ProgramListEntryDTO is one row of the program list: the program plus
// its tier ladder and current member count, so the salon dashboard does
// not need a follow-up call per program.
type ProgramListEntryDTO struct {
	ProgramDTO
	Tiers       []TierDTO `json:"tiers"`
	MemberCount int       `json:"member_count"`
}

// SaveProgramRequest is the request to create or update a program.
type SaveProgramRequest struct {
	ID                    string `json:"id"`
	SalonID               string `json:"salon_id"`
	Name                  string `json:"name"`
	IsActive              *bool  `json:"is_active,omitempty"`
	CashbackEnabled       bool   `json:"cashback_enabled"`
	CashbackType          string `json:"cashback_type,omitempty"`
	CashbackValue         string `json:"cashback_value,omitempty"`
	PointsEnabled         bool   `json:"points_enabled"`
	PointsPerCurrencyUnit string `json:"points_per_currency_unit,omitempty"`
	VIPTiersEnabled       bool   `json:"vip_tiers_enabled"`
	TierDemotion          string `json:"tier_demotion,omitempty"`
	CashbackExpiryDays    int    `json:"cashback_expiry_days"`
	PointsExpiryDays      int    `json:"points_expiry_days"`
	CashbackHoldDays      int    `json:"cashback_hold_days"`
}

// TierDTO represents a VIP tier in API responses.
type TierDTO struct {
	ID                 string   `json:"id"`
	ProgramID          string   `json:"program_id"`
	Order              int      `json:"order"`
	Name               string   `json:"name"`
	MinTotalSpent      string   `json:"min_total_spent"`
	MinVisits          int      `json:"min_visits"`
	MinMonthlySpent    string   `json:"min_monthly_spent"`
	CashbackMultiplier string   `json:"cashback_multiplier"`
	DiscountPercentage string   `json:"discount_percentage"`
	Capabilities       []string `json:"capabilities,omitempty"`
	PromotionBonus     string   `json:"promotion_bonus"`
}

// SaveTierRequest is the request to create or update a tier.
type SaveTierRequest struct {
	ID                 string   `json:"id"`
	Order              int      `json:"order"`
	Name               string   `json:"name"`
	MinTotalSpent      string   `json:"min_total_spent,omitempty"`
	MinVisits          int      `json:"min_visits,omitempty"`
	MinMonthlySpent    string   `json:"min_monthly_spent,omitempty"`
	CashbackMultiplier string   `json:"cashback_multiplier,omitempty"`
	DiscountPercentage string   `json:"discount_percentage,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	PromotionBonus     string   `json:"promotion_bonus,omitempty"`
}

// =============================================================================
// SALE / REDEMPTION TYPES
// =============================================================================

// RecordSaleRequest records a completed sale for accrual.
type RecordSaleRequest struct {
	SaleID     string `json:"sale_id"`
	ClientID   string `json:"client_id"`
	ProgramID  string `json:"program_id"`
	Amount     string `json:"amount"`
	OccurredAt string `json:"occurred_at,omitempty"` // RFC3339, default now
}

// RedeemRequest converts available balance into a reward.
type RedeemRequest struct {
	ClientID       string `json:"client_id"`
	ProgramID      string `json:"program_id"`
	Amount         string `json:"amount"`
	Unit           string `json:"unit,omitempty"` // default cashback
	RelatedSaleID  string `json:"related_sale_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// AdjustmentRequest is a manual admin correction, either sign.
type AdjustmentRequest struct {
	ClientID       string `json:"client_id"`
	ProgramID      string `json:"program_id"`
	Amount         string `json:"amount"`
	Unit           string `json:"unit,omitempty"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// =============================================================================
// BALANCE TYPES
// =============================================================================

// BalanceDTO is the materialized balance returned to clients.
type BalanceDTO struct {
	ClientID  string `json:"client_id"`
	ProgramID string `json:"program_id"`

	CashbackAvailable string `json:"cashback_available"`
	CashbackPending   string `json:"cashback_pending"`
	PointsAvailable   string `json:"points_available"`
	PointsPending     string `json:"points_pending"`

	LifetimeEarnedCashback   string `json:"lifetime_earned_cashback"`
	LifetimeRedeemedCashback string `json:"lifetime_redeemed_cashback"`
	LifetimeEarnedPoints     string `json:"lifetime_earned_points"`
	LifetimeRedeemedPoints   string `json:"lifetime_redeemed_points"`

	CurrentTierID *string `json:"current_tier_id,omitempty"`

	TotalSpent   string `json:"total_spent"`
	TotalVisits  int    `json:"total_visits"`
	MonthlySpent string `json:"monthly_spent"`
}

// TransactionDTO is one ledger entry in API responses.
type TransactionDTO struct {
	ID            string `json:"id"`
	ClientID      string `json:"client_id"`
	ProgramID     string `json:"program_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Unit          string `json:"unit"`
	SaleAmount    string `json:"sale_amount,omitempty"`
	RelatedSaleID string `json:"related_sale_id,omitempty"`
	EffectiveAt   string `json:"effective_at"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// RecordSaleResponse is the result of recording a sale.
type RecordSaleResponse struct {
	Transactions []TransactionDTO `json:"transactions"`
	Balance      BalanceDTO       `json:"balance"`
	TierChange   *TierChangeDTO   `json:"tier_change,omitempty"`
}

// TierChangeDTO reports a tier transition triggered by a sale.
type TierChangeDTO struct {
	From *string `json:"from,omitempty"`
	To   *string `json:"to,omitempty"`
}

// =============================================================================
// LEADERBOARD TYPES
// =============================================================================

// LeaderboardEntryDTO is one ranked row.
type LeaderboardEntryDTO struct {
	ClientID     string `json:"client_id"`
	Value        string `json:"value"`
	Rank         int    `json:"rank"`
	PreviousRank int    `json:"previous_rank,omitempty"`
	Trend        int    `json:"trend"`
	NewEntrant   bool   `json:"new_entrant,omitempty"`
}

// ProgramStatsDTO is the dashboard summary for one program.
type ProgramStatsDTO struct {
	ProgramID        string `json:"program_id"`
	Members          int    `json:"members"`
	CashbackIssued   string `json:"cashback_issued"`
	CashbackRedeemed string `json:"cashback_redeemed"`
	PointsIssued     string `json:"points_issued"`
	PointsRedeemed   string `json:"points_redeemed"`
	RedemptionRate   string `json:"redemption_rate"`
}

// SweepResponse summarizes a manually triggered expiration sweep.
type SweepResponse struct {
	ProgramsScanned int    `json:"programs_scanned"`
	ClientsScanned  int    `json:"clients_scanned"`
	LotsExpired     int    `json:"lots_expired"`
	CashbackExpired string `json:"cashback_expired"`
	PointsExpired   string `json:"points_expired"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toProgramDTO(p loyalty.Program) ProgramDTO {
	return ProgramDTO{
		ID:                    string(p.ID),
		SalonID:               string(p.SalonID),
		Name:                  p.Name,
		IsActive:              p.IsActive,
		CashbackEnabled:       p.CashbackEnabled,
		CashbackType:          string(p.CashbackType),
		CashbackValue:         p.CashbackValue.String(),
		PointsEnabled:         p.PointsEnabled,
		PointsPerCurrencyUnit: p.PointsPerCurrencyUnit.String(),
		VIPTiersEnabled:       p.VIPTiersEnabled,
		TierDemotion:          string(p.TierDemotion),
		CashbackExpiryDays:    p.CashbackExpiryDays,
		PointsExpiryDays:      p.PointsExpiryDays,
		CashbackHoldDays:      p.CashbackHoldDays,
		CreatedAt:             p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             p.UpdatedAt.Format(time.RFC3339),
	}
}

func toTierDTO(t loyalty.Tier) TierDTO {
	caps := make([]string, 0, len(t.Capabilities))
	for _, c := range t.Capabilities {
		caps = append(caps, string(c))
	}
	return TierDTO{
		ID:                 string(t.ID),
		ProgramID:          string(t.ProgramID),
		Order:              t.Order,
		Name:               t.Name,
		MinTotalSpent:      t.MinTotalSpent.String(),
		MinVisits:          t.MinVisits,
		MinMonthlySpent:    t.MinMonthlySpent.String(),
		CashbackMultiplier: t.CashbackMultiplier.String(),
		DiscountPercentage: t.DiscountPercentage.String(),
		Capabilities:       caps,
		PromotionBonus:     t.PromotionBonus.String(),
	}
}

func toBalanceDTO(b loyalty.ClientBalance) BalanceDTO {
	dto := BalanceDTO{
		ClientID:                 string(b.ClientID),
		ProgramID:                string(b.ProgramID),
		CashbackAvailable:        b.CashbackAvailable.String(),
		CashbackPending:          b.CashbackPending.String(),
		PointsAvailable:          b.PointsAvailable.String(),
		PointsPending:            b.PointsPending.String(),
		LifetimeEarnedCashback:   b.LifetimeEarnedCashback.String(),
		LifetimeRedeemedCashback: b.LifetimeRedeemedCashback.String(),
		LifetimeEarnedPoints:     b.LifetimeEarnedPoints.String(),
		LifetimeRedeemedPoints:   b.LifetimeRedeemedPoints.String(),
		TotalSpent:               b.TotalSpent.String(),
		TotalVisits:              b.TotalVisits,
		MonthlySpent:             b.MonthlySpent.String(),
	}
	if b.CurrentTierID != nil {
		id := string(*b.CurrentTierID)
		dto.CurrentTierID = &id
	}
	return dto
}

func toTransactionDTO(tx loyalty.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            string(tx.ID),
		ClientID:      string(tx.ClientID),
		ProgramID:     string(tx.ProgramID),
		Type:          string(tx.Type),
		Amount:        tx.Amount.Value.String(),
		Unit:          string(tx.Amount.Unit),
		RelatedSaleID: tx.RelatedSaleID,
		EffectiveAt:   tx.EffectiveAt.Format(time.RFC3339),
		Reason:        tx.Reason,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339),
	}
	if !tx.SaleAmount.IsZero() {
		dto.SaleAmount = tx.SaleAmount.String()
	}
	return dto
}

func toTransactionDTOs(txs []loyalty.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toLeaderboardDTOs(entries []loyalty.LeaderboardEntry) []LeaderboardEntryDTO {
	dtos := make([]LeaderboardEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = LeaderboardEntryDTO{
			ClientID:     string(e.ClientID),
			Value:        e.Value.String(),
			Rank:         e.Rank,
			PreviousRank: e.PreviousRank,
			Trend:        e.Trend,
			NewEntrant:   e.NewEntrant,
		}
	}
	return dtos
}

func parseDecimalField(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}
