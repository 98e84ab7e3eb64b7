/*
leaderboard.go - Leaderboard Ranker

PURPOSE:
  Derives ranked, tie-broken views over client aggregates for a time
  window, with a rank-delta trend versus the immediately preceding window
  of equal length. Pure read path over the transaction log: it never
  holds a balance version and never blocks ledger writes, so the view may
  lag in-flight writes by the store's read consistency (bounded by a
  single query snapshot).

DETERMINISM:
  Ordered descending by value; ties broken by ascending client id, so
  repeated calls over the same data always produce the same ranking.
*/
package loyalty

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// METRICS AND WINDOWS
// =============================================================================

type Metric string

const (
	MetricSpend  Metric = "spend"
	MetricVisits Metric = "visits"
	MetricPoints Metric = "points"
	MetricTier   Metric = "tier"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricSpend, MetricVisits, MetricPoints, MetricTier:
		return Metric(s), nil
	default:
		return "", &ValidationError{Field: "metric", Message: "must be spend, visits, points or tier"}
	}
}

// Window is the time range a ranking metric is computed over.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Valid() bool { return w.End.After(w.Start) }

// Previous returns the immediately preceding window of equal length.
func (w Window) Previous() Window {
	length := w.End.Sub(w.Start)
	return Window{Start: w.Start.Add(-length), End: w.Start}
}

// =============================================================================
// ENTRIES
// =============================================================================

type LeaderboardEntry struct {
	ClientID ClientID
	Value    decimal.Decimal
	Rank     int

	// PreviousRank is 0 for a new entrant (absent from the prior window).
	PreviousRank int
	// Trend is positive when the client moved up relative to the prior
	// window; meaningless for new entrants.
	Trend      int
	NewEntrant bool
}

// =============================================================================
// RANKER
// =============================================================================

type Ranker struct {
	Store    Store
	Registry *Registry
}

func NewRanker(store Store, registry *Registry) *Ranker {
	return &Ranker{Store: store, Registry: registry}
}

// Rank produces the ordered leaderboard for a program and metric over a
// window, limited to limit entries (0 = all), with trend against the
// preceding window.
func (r *Ranker) Rank(ctx context.Context, salonID SalonID, programID ProgramID, metric Metric, window Window, limit int) ([]LeaderboardEntry, error) {
	program, err := r.Registry.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if program.SalonID != salonID {
		return nil, ErrProgramNotFound
	}
	if !window.Valid() {
		return nil, &ValidationError{Field: "window", Message: "end must be after start"}
	}

	current, err := r.values(ctx, programID, metric, window)
	if err != nil {
		return nil, err
	}
	previous, err := r.values(ctx, programID, metric, window.Previous())
	if err != nil {
		return nil, err
	}
	prevRank := rankOf(order(previous))

	ordered := order(current)
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	entries := make([]LeaderboardEntry, 0, len(ordered))
	for i, kv := range ordered {
		e := LeaderboardEntry{
			ClientID: kv.client,
			Value:    kv.value,
			Rank:     i + 1,
		}
		if pr, ok := prevRank[kv.client]; ok {
			e.PreviousRank = pr
			e.Trend = pr - e.Rank
		} else {
			e.NewEntrant = true
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// values computes the metric per client over a window.
func (r *Ranker) values(ctx context.Context, programID ProgramID, metric Metric, window Window) (map[ClientID]decimal.Decimal, error) {
	if metric == MetricTier {
		return r.tierValues(ctx, programID)
	}

	txs, err := r.Store.LoadByProgram(ctx, programID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	values := make(map[ClientID]decimal.Decimal)
	switch metric {
	case MetricPoints:
		for _, tx := range txs {
			if tx.Type == TxAccrual && tx.Amount.Unit == UnitPoints {
				values[tx.ClientID] = values[tx.ClientID].Add(tx.Amount.Value)
			}
		}
	default: // spend, visits: distinct sales
		type saleKey struct {
			client ClientID
			sale   string
		}
		sales := make(map[saleKey]decimal.Decimal)
		for _, tx := range txs {
			if tx.Type != TxAccrual || tx.RelatedSaleID == "" {
				continue
			}
			k := saleKey{client: tx.ClientID, sale: tx.RelatedSaleID}
			if existing, ok := sales[k]; !ok || tx.SaleAmount.GreaterThan(existing) {
				sales[k] = tx.SaleAmount
			}
		}
		for k, amount := range sales {
			if metric == MetricVisits {
				values[k.client] = values[k.client].Add(decimal.NewFromInt(1))
			} else {
				values[k.client] = values[k.client].Add(amount)
			}
		}
	}
	return values, nil
}

// tierValues ranks clients by their current tier order. Window-independent:
// tier membership is a present-state metric.
func (r *Ranker) tierValues(ctx context.Context, programID ProgramID) (map[ClientID]decimal.Decimal, error) {
	tiers, err := r.Registry.Tiers(ctx, programID)
	if err != nil {
		return nil, err
	}
	balances, err := r.Store.ListBalancesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	values := make(map[ClientID]decimal.Decimal)
	for _, b := range balances {
		if t := tierByID(tiers, b.CurrentTierID); t != nil {
			values[b.ClientID] = decimal.NewFromInt(int64(t.Order))
		}
	}
	return values, nil
}

// =============================================================================
// ORDERING
// =============================================================================

type rankedValue struct {
	client ClientID
	value  decimal.Decimal
}

func order(values map[ClientID]decimal.Decimal) []rankedValue {
	ordered := make([]rankedValue, 0, len(values))
	for c, v := range values {
		ordered = append(ordered, rankedValue{client: c, value: v})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].value.Equal(ordered[j].value) {
			return ordered[i].value.GreaterThan(ordered[j].value)
		}
		return ordered[i].client < ordered[j].client
	})
	return ordered
}

func rankOf(ordered []rankedValue) map[ClientID]int {
	ranks := make(map[ClientID]int, len(ordered))
	for i, kv := range ordered {
		ranks[kv.client] = i + 1
	}
	return ranks
}
