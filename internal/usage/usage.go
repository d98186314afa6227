// Package usage provides token accounting, cost estimation, and formatting.
//
// Every model call reports its token usage; the session Tracker accumulates
// per-model totals, dollar cost, and API wall time. The tracker is passed by
// handle wherever cost attribution is needed, there is no process-global
// accumulator.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Usage represents token usage for a single request.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// Tier is the logical size class of a model. Pricing is attached to tiers so
// the engine can swap concrete model IDs without touching cost code.
type Tier string

const (
	// TierLarge is the primary conversation model.
	TierLarge Tier = "large"
	// TierSmall is the cheaper model used for auxiliary calls.
	TierSmall Tier = "small"
)

// Cost represents pricing for a model in dollars per million tokens.
type Cost struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache_read" yaml:"cache_read"`
	CacheWrite float64 `json:"cache_write" yaml:"cache_write"`
}

// Estimate calculates the estimated cost for the given usage.
func (c *Cost) Estimate(usage *Usage) float64 {
	if usage == nil {
		return 0
	}
	total := float64(usage.InputTokens)*c.Input +
		float64(usage.OutputTokens)*c.Output +
		float64(usage.CacheReadTokens)*c.CacheRead +
		float64(usage.CacheWriteTokens)*c.CacheWrite
	return total / 1_000_000
}

// DefaultRates holds the built-in per-tier pricing, overridable from config.
var DefaultRates = map[Tier]Cost{
	TierLarge: {Input: 3.00, Output: 15.00, CacheRead: 0.30, CacheWrite: 3.75},
	TierSmall: {Input: 0.80, Output: 4.00, CacheRead: 0.08, CacheWrite: 1.00},
}

// RatesFor returns the pricing for a tier, falling back to the large tier
// for unknown values.
func RatesFor(tier Tier) Cost {
	if c, ok := DefaultRates[tier]; ok {
		return c
	}
	return DefaultRates[TierLarge]
}

// Record is one model call's worth of accounting.
type Record struct {
	MessageID string        `json:"message_id"`
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Tier      Tier          `json:"tier"`
	Usage     Usage         `json:"usage"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Tracker accumulates usage for one session.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	totals   map[string]*Usage // keyed by "provider:model"
	cost     float64
	apiTime  time.Duration
	maxCount int
}

// NewTracker creates a session usage tracker.
func NewTracker() *Tracker {
	return &Tracker{
		totals:   make(map[string]*Usage),
		maxCount: 10000,
	}
}

// Record adds a usage record and folds it into the session totals.
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	t.records = append(t.records, r)
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}

	key := r.Provider + ":" + r.Model
	if t.totals[key] == nil {
		t.totals[key] = &Usage{}
	}
	t.totals[key].Add(&r.Usage)

	t.cost += r.CostUSD
	t.apiTime += r.Duration
}

// TotalCostUSD returns the accumulated dollar cost for the session.
func (t *Tracker) TotalCostUSD() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// APIDuration returns the accumulated wall time spent in model calls.
func (t *Tracker) APIDuration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.apiTime
}

// Calls returns the number of recorded model calls.
func (t *Tracker) Calls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// TotalUsage returns the summed token usage across all models.
func (t *Tracker) TotalUsage() *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := &Usage{}
	for _, u := range t.totals {
		total.Add(u)
	}
	return total
}

// Totals returns a snapshot of per-model usage keyed by "provider:model".
func (t *Tracker) Totals() map[string]*Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*Usage, len(t.totals))
	for k, v := range t.totals {
		u := *v
		result[k] = &u
	}
	return result
}

// RecentRecords returns up to limit most recent records, newest last.
func (t *Tracker) RecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	start := len(t.records) - limit
	result := make([]Record, limit)
	copy(result, t.records[start:])
	return result
}

// Summary is a point-in-time view of session accounting for display.
type Summary struct {
	CostUSD     float64
	APIDuration time.Duration
	Calls       int
	Usage       Usage
	ByModel     map[string]*Usage
}

// Summarize captures the current session totals.
func (t *Tracker) Summarize() Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := Usage{}
	byModel := make(map[string]*Usage, len(t.totals))
	for k, v := range t.totals {
		u := *v
		byModel[k] = &u
		total.Add(v)
	}

	return Summary{
		CostUSD:     t.cost,
		APIDuration: t.apiTime,
		Calls:       len(t.records),
		Usage:       total,
		ByModel:     byModel,
	}
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0.00"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}

// FormatUsage formats usage for display.
func FormatUsage(usage *Usage) string {
	if usage == nil {
		return "0 tokens"
	}
	return FormatTokenCount(usage.Total()) + " tokens"
}

// FormatUsageDetailed formats usage with an input/output/cache breakdown.
func FormatUsageDetailed(usage *Usage) string {
	if usage == nil {
		return "No usage"
	}
	parts := []string{}
	if usage.InputTokens > 0 {
		parts = append(parts, fmt.Sprintf("in: %s", FormatTokenCount(usage.InputTokens)))
	}
	if usage.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("out: %s", FormatTokenCount(usage.OutputTokens)))
	}
	if usage.CacheReadTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-r: %s", FormatTokenCount(usage.CacheReadTokens)))
	}
	if usage.CacheWriteTokens > 0 {
		parts = append(parts, fmt.Sprintf("cache-w: %s", FormatTokenCount(usage.CacheWriteTokens)))
	}
	if len(parts) == 0 {
		return "0 tokens"
	}
	return fmt.Sprintf("%s (%s)", FormatTokenCount(usage.Total()), joinParts(parts))
}

func joinParts(parts []string) string {
	result := ""
	for i, p := range parts {
		if i > 0 {
			result += ", "
		}
		result += p
	}
	return result
}
