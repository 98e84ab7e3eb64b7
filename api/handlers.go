/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Programs:
    GET    /api/programs                  List programs with tier ladders and
                                          member counts (salon_id filter)
    POST   /api/programs                  Create program
    GET    /api/programs/{id}             Get program
    PUT    /api/programs/{id}             Update program
    GET    /api/programs/{id}/stats       Members, issued vs redeemed
    GET    /api/programs/{id}/tiers       List tiers
    POST   /api/programs/{id}/tiers       Create tier
    PUT    /api/tiers/{id}                Update tier
    DELETE /api/tiers/{id}                Delete tier (?reassign=true cascades)

  Clients:
    GET    /api/clients/{id}/balance      Balance summary (program_id param)
    GET    /api/clients/{id}/transactions Ledger history (program_id param,
                                          optional from/to bounds)

  Writes:
    POST   /api/sales                     Record a completed sale (accrual)
    POST   /api/redemptions               Redeem balance for a reward

  Leaderboard:
    GET    /api/leaderboard               Ranked view (salon_id, program_id,
                                          metric, period_days, limit)

  Admin:
    POST   /api/admin/adjustments         Manual balance correction
    POST   /api/admin/sweep               Trigger expiration sweep now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Program / tier not found
  - 409: Conflict (version contention, tier in use)
  - 422: Insufficient balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Registry    *loyalty.Registry
	Ledger      *loyalty.Ledger
	Redemptions *loyalty.RedemptionProcessor
	Ranker      *loyalty.Ranker
	Sweeper     *loyalty.Sweeper
	Log         zerolog.Logger
}

// NewHandler wires the handler from the engine components.
func NewHandler(registry *loyalty.Registry, ledger *loyalty.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		Registry:    registry,
		Ledger:      ledger,
		Redemptions: loyalty.NewRedemptionProcessor(ledger),
		Ranker:      loyalty.NewRanker(ledger.Store, registry),
		Sweeper:     loyalty.NewSweeper(ledger, log),
		Log:         log,
	}
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// ListPrograms returns programs, optionally filtered by salon. Each entry
// carries the program's tier ladder and member count.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	salonID := loyalty.SalonID(r.URL.Query().Get("salon_id"))

	programs, err := h.Registry.Programs.ListPrograms(r.Context(), salonID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	entries := make([]ProgramListEntryDTO, len(programs))
	for i, p := range programs {
		tiers, err := h.Registry.Tiers(r.Context(), p.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		balances, err := h.Ledger.Store.ListBalancesByProgram(r.Context(), p.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		tierDTOs := make([]TierDTO, len(tiers))
		for j, t := range tiers {
			tierDTOs[j] = toTierDTO(t)
		}
		entries[i] = ProgramListEntryDTO{
			ProgramDTO:  toProgramDTO(p),
			Tiers:       tierDTOs,
			MemberCount: len(balances),
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetProgram returns a single program.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ProgramID(chi.URLParam(r, "id"))

	program, err := h.Registry.GetProgram(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(program))
}

// CreateProgram creates a new loyalty program.
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req SaveProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, ok := programFromRequest(w, req)
	if !ok {
		return
	}
	if program.ID == "" {
		program.ID = loyalty.ProgramID(uuid.NewString())
	}
	program.IsActive = true
	if req.IsActive != nil {
		program.IsActive = *req.IsActive
	}

	created, err := h.Registry.CreateProgram(r.Context(), program)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProgramDTO(created))
}

// UpdateProgram updates an existing program. A body without is_active
// keeps the stored activation state; deactivation must be explicit and
// so must reactivation.
func (h *Handler) UpdateProgram(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ProgramID(chi.URLParam(r, "id"))

	existing, err := h.Registry.GetProgram(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req SaveProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, ok := programFromRequest(w, req)
	if !ok {
		return
	}
	program.ID = id
	program.IsActive = existing.IsActive
	if req.IsActive != nil {
		program.IsActive = *req.IsActive
	}

	updated, err := h.Registry.UpdateProgram(r.Context(), program)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgramDTO(updated))
}

func programFromRequest(w http.ResponseWriter, req SaveProgramRequest) (loyalty.Program, bool) {
	cashbackValue, ok := parseDecimalField(req.CashbackValue)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid cashback_value", nil)
		return loyalty.Program{}, false
	}
	pointsPerUnit, ok := parseDecimalField(req.PointsPerCurrencyUnit)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid points_per_currency_unit", nil)
		return loyalty.Program{}, false
	}

	return loyalty.Program{
		ID:                    loyalty.ProgramID(req.ID),
		SalonID:               loyalty.SalonID(req.SalonID),
		Name:                  req.Name,
		CashbackEnabled:       req.CashbackEnabled,
		CashbackType:          loyalty.CashbackType(req.CashbackType),
		CashbackValue:         cashbackValue,
		PointsEnabled:         req.PointsEnabled,
		PointsPerCurrencyUnit: pointsPerUnit,
		VIPTiersEnabled:       req.VIPTiersEnabled,
		TierDemotion:          loyalty.DemotionPolicy(req.TierDemotion),
		CashbackExpiryDays:    req.CashbackExpiryDays,
		PointsExpiryDays:      req.PointsExpiryDays,
		CashbackHoldDays:      req.CashbackHoldDays,
	}, true
}

// GetProgramStats returns the dashboard summary for a program.
func (h *Handler) GetProgramStats(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ProgramID(chi.URLParam(r, "id"))

	stats, err := h.Ledger.ProgramStats(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgramStatsDTO{
		ProgramID:        string(stats.ProgramID),
		Members:          stats.Members,
		CashbackIssued:   stats.CashbackIssued.String(),
		CashbackRedeemed: stats.CashbackRedeemed.String(),
		PointsIssued:     stats.PointsIssued.String(),
		PointsRedeemed:   stats.PointsRedeemed.String(),
		RedemptionRate:   stats.RedemptionRate.String(),
	})
}

// =============================================================================
// TIER HANDLERS
// =============================================================================

// ListTiers returns a program's tier ladder.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	programID := loyalty.ProgramID(chi.URLParam(r, "id"))

	if _, err := h.Registry.GetProgram(r.Context(), programID); err != nil {
		writeDomainError(w, err)
		return
	}
	tiers, err := h.Registry.Tiers(r.Context(), programID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = toTierDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTier adds a tier to a program's ladder.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	programID := loyalty.ProgramID(chi.URLParam(r, "id"))

	var req SaveTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tier, ok := tierFromRequest(w, req)
	if !ok {
		return
	}
	tier.ProgramID = programID
	if tier.ID == "" {
		tier.ID = loyalty.TierID(uuid.NewString())
	}

	created, err := h.Registry.CreateTier(r.Context(), tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTierDTO(created))
}

// UpdateTier updates an existing tier.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	id := loyalty.TierID(chi.URLParam(r, "id"))

	var req SaveTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tier, ok := tierFromRequest(w, req)
	if !ok {
		return
	}
	tier.ID = id

	updated, err := h.Registry.UpdateTier(r.Context(), tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(updated))
}

// DeleteTier removes a tier; ?reassign=true cascades current holders to
// the next lower tier.
func (h *Handler) DeleteTier(w http.ResponseWriter, r *http.Request) {
	id := loyalty.TierID(chi.URLParam(r, "id"))
	reassign := r.URL.Query().Get("reassign") == "true"

	err := h.Registry.DeleteTier(r.Context(), id, loyalty.DeleteTierOptions{Reassign: reassign})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tierFromRequest(w http.ResponseWriter, req SaveTierRequest) (loyalty.Tier, bool) {
	fields := []struct {
		name  string
		value string
	}{
		{"min_total_spent", req.MinTotalSpent},
		{"min_monthly_spent", req.MinMonthlySpent},
		{"cashback_multiplier", req.CashbackMultiplier},
		{"discount_percentage", req.DiscountPercentage},
		{"promotion_bonus", req.PromotionBonus},
	}
	parsed := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		d, ok := parseDecimalField(f.value)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid "+f.name, nil)
			return loyalty.Tier{}, false
		}
		parsed[i] = d
	}

	caps := make([]loyalty.Capability, 0, len(req.Capabilities))
	for _, c := range req.Capabilities {
		caps = append(caps, loyalty.Capability(c))
	}

	return loyalty.Tier{
		ID:                 loyalty.TierID(req.ID),
		Order:              req.Order,
		Name:               req.Name,
		MinTotalSpent:      parsed[0],
		MinVisits:          req.MinVisits,
		MinMonthlySpent:    parsed[1],
		CashbackMultiplier: parsed[2],
		DiscountPercentage: parsed[3],
		Capabilities:       caps,
		PromotionBonus:     parsed[4],
	}, true
}

// =============================================================================
// CLIENT HANDLERS
// =============================================================================

// GetClientBalance returns the freshly materialized balance for a client
// within a program.
func (h *Handler) GetClientBalance(w http.ResponseWriter, r *http.Request) {
	clientID := loyalty.ClientID(chi.URLParam(r, "id"))
	programID := loyalty.ProgramID(r.URL.Query().Get("program_id"))
	if programID == "" {
		writeError(w, http.StatusBadRequest, "program_id is required", nil)
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), clientID, programID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// GetClientTransactions returns the client's ledger history. Optional
// from/to query params (RFC3339) narrow the history to a recorded-at
// window; either bound may be given alone.
func (h *Handler) GetClientTransactions(w http.ResponseWriter, r *http.Request) {
	clientID := loyalty.ClientID(chi.URLParam(r, "id"))
	q := r.URL.Query()
	programID := loyalty.ProgramID(q.Get("program_id"))
	if programID == "" {
		writeError(w, http.StatusBadRequest, "program_id is required", nil)
		return
	}
	if _, err := h.Registry.GetProgram(r.Context(), programID); err != nil {
		writeDomainError(w, err)
		return
	}

	var txs []loyalty.Transaction
	var err error
	if q.Get("from") != "" || q.Get("to") != "" {
		from, ok := parseTimeParam(w, q.Get("from"), "from", time.Time{})
		if !ok {
			return
		}
		to, ok := parseTimeParam(w, q.Get("to"), "to", time.Now())
		if !ok {
			return
		}
		txs, err = h.Ledger.TransactionsRange(r.Context(), clientID, programID, from, to)
	} else {
		txs, err = h.Ledger.Transactions(r.Context(), clientID, programID)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

func parseTimeParam(w http.ResponseWriter, value, name string, fallback time.Time) (time.Time, bool) {
	if value == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+name+" (use RFC3339)", err)
		return time.Time{}, false
	}
	return t, true
}

// =============================================================================
// SALE / REDEMPTION HANDLERS
// =============================================================================

// RecordSale runs the accrual flow for a completed sale.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseDecimalField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount", nil)
		return
	}
	occurredAt := time.Now()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurred_at (use RFC3339)", err)
			return
		}
		occurredAt = t
	}

	sale := loyalty.Sale{
		SaleID:     req.SaleID,
		ClientID:   loyalty.ClientID(req.ClientID),
		ProgramID:  loyalty.ProgramID(req.ProgramID),
		Amount:     amount,
		OccurredAt: occurredAt,
	}

	txs, change, err := h.Ledger.RecordSale(r.Context(), sale)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	balance, err := h.Ledger.GetBalance(r.Context(), sale.ClientID, sale.ProgramID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := RecordSaleResponse{
		Transactions: toTransactionDTOs(txs),
		Balance:      toBalanceDTO(balance),
	}
	if change != nil && change.Changed() {
		dto := TierChangeDTO{}
		if change.From != nil {
			dto.From = strPtr(change.From.Name)
		}
		if change.To != nil {
			dto.To = strPtr(change.To.Name)
		}
		resp.TierChange = &dto
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Redeem converts available balance into a reward.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseDecimalField(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid amount", nil)
		return
	}

	balance, err := h.Redemptions.Redeem(r.Context(), loyalty.RedemptionInput{
		ClientID:       loyalty.ClientID(req.ClientID),
		ProgramID:      loyalty.ProgramID(req.ProgramID),
		Amount:         amount,
		Unit:           loyalty.Unit(req.Unit),
		RelatedSaleID:  req.RelatedSaleID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(balance))
}

// =============================================================================
// LEADERBOARD HANDLER
// =============================================================================

// GetLeaderboard returns the ranked view for a program and metric.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	salonID := loyalty.SalonID(q.Get("salon_id"))
	programID := loyalty.ProgramID(q.Get("program_id"))
	if salonID == "" || programID == "" {
		writeError(w, http.StatusBadRequest, "salon_id and program_id are required", nil)
		return
	}

	metric := loyalty.MetricSpend
	if m := q.Get("metric"); m != "" {
		parsed, err := loyalty.ParseMetric(m)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		metric = parsed
	}

	periodDays := 30
	if d := q.Get("period_days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid period_days", err)
			return
		}
		periodDays = n
	}
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	now := time.Now()
	window := loyalty.Window{
		Start: now.Add(-time.Duration(periodDays) * 24 * time.Hour),
		End:   now,
	}

	entries, err := h.Ranker.Rank(r.Context(), salonID, programID, metric, window, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaderboardDTOs(entries))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment appends a manual correction, either sign.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, ok := parseDecimalField(req.Amount)
	if !ok || amount.IsZero() {
		writeError(w, http.StatusBadRequest, "Invalid amount", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}
	unit := loyalty.Unit(req.Unit)
	if unit == "" {
		unit = loyalty.UnitCashback
	}

	programID := loyalty.ProgramID(req.ProgramID)
	if _, err := h.Registry.GetProgram(r.Context(), programID); err != nil {
		writeDomainError(w, err)
		return
	}

	tx := loyalty.Transaction{
		ID:             loyalty.TransactionID(uuid.NewString()),
		ClientID:       loyalty.ClientID(req.ClientID),
		ProgramID:      programID,
		Type:           loyalty.TxAdjustment,
		Amount:         loyalty.NewAmountFromDecimal(amount, unit),
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	}

	appended, err := h.Ledger.Append(r.Context(), tx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(appended))
}

// TriggerSweep runs the expiration sweep immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.Sweeper.SweepAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		ProgramsScanned: result.ProgramsScanned,
		ClientsScanned:  result.ClientsScanned,
		LotsExpired:     result.LotsExpired,
		CashbackExpired: result.CashbackExpired.String(),
		PointsExpired:   result.PointsExpired.String(),
	})
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch loyalty.CodeOf(err) {
	case loyalty.CodeValidation:
		status = http.StatusBadRequest
	case loyalty.CodeNotFound:
		status = http.StatusNotFound
	case loyalty.CodeConflict, loyalty.CodeIdempotency:
		status = http.StatusConflict
	case loyalty.CodeInsufficientBalance:
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, err.Error(), nil)
}

func strPtr(s string) *string {
	return &s
}
