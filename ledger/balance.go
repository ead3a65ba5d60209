/*
balance.go - Balance projection from the ledger

PURPOSE:
  Answers "how many hours does this employee have?" for one category and
  year. The answer is always derived from the ledger; nothing here writes
  a balance.

BALANCE COMPONENTS:
  TotalAccrued  Σ accrual + Σ adjustment
  TotalUsed     Σ usage + Σ expiration
  Current       TotalAccrued - TotalUsed
  Pending       hours tied to not-yet-approved requests (external source)
  Available     Current - Pending

  Adjustments count as credits: the carry-over processor opens the next
  year with an adjustment, and that opening balance must be spendable.

CACHING:
  The ledger part of a balance may be cached. The cache is owned by the
  Projector and invalidated on every append for the key (the Projector
  registers Invalidate as a Ledger listener). A rebuild only stores its
  result if no invalidation happened since it started reading, otherwise
  an append racing the read would leave the pre-append balance cached.
  Pending hours are never cached. A cache failure falls back to the ledger.

EXAMPLE:
  accrual 10, accrual 5, usage 3, expiration 2, adjustment 4
  TotalAccrued = 19, TotalUsed = 5, Current = 14

SEE ALSO:
  - cache.go: MemoryCache and RedisCache
  - ledger.go: Write path that triggers invalidation
*/
package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE
// =============================================================================

// Balance is a projection of one employee, category and year.
type Balance struct {
	EmployeeID   EmployeeID      `json:"employee_id"`
	Category     Category        `json:"category"`
	Year         int             `json:"year"`
	TotalAccrued decimal.Decimal `json:"total_accrued"`
	TotalUsed    decimal.Decimal `json:"total_used"`
	Current      decimal.Decimal `json:"current"`
	Pending      decimal.Decimal `json:"pending"`
	Transactions int             `json:"transactions"`
}

// Available is what can still be requested.
func (b Balance) Available() decimal.Decimal { return b.Current.Sub(b.Pending) }

// Key returns the balance key.
func (b Balance) Key() BalanceKey {
	return BalanceKey{EmployeeID: b.EmployeeID, Category: b.Category, Year: b.Year}
}

// Compute sums txs into a balance for key. Transactions for other keys are
// ignored. An empty slice yields a zero balance.
func Compute(key BalanceKey, txs []Transaction) Balance {
	b := Balance{
		EmployeeID:   key.EmployeeID,
		Category:     key.Category,
		Year:         key.Year,
		TotalAccrued: decimal.Zero,
		TotalUsed:    decimal.Zero,
		Pending:      decimal.Zero,
	}
	for _, tx := range txs {
		if tx.Key() != key {
			continue
		}
		switch {
		case tx.Type.IsCredit():
			b.TotalAccrued = b.TotalAccrued.Add(tx.Hours)
		case tx.Type.IsDebit():
			b.TotalUsed = b.TotalUsed.Add(tx.Hours)
		}
		b.Transactions++
	}
	b.Current = b.TotalAccrued.Sub(b.TotalUsed)
	return b
}

// =============================================================================
// PROJECTOR
// =============================================================================

// PendingSource supplies hours tied to not-yet-approved requests.
type PendingSource interface {
	PendingHours(ctx context.Context, employeeID EmployeeID, category Category, year int) (decimal.Decimal, error)
}

// CacheRecorder receives cache hit/miss observations.
type CacheRecorder interface {
	BalanceCache(result string)
}

// Projector derives balances from the ledger store.
type Projector struct {
	Store    Store
	Pending  PendingSource
	Cache    Cache
	Logger   *slog.Logger
	Recorder CacheRecorder
}

// NewProjector creates a projector. pending and cache may be nil.
func NewProjector(store Store, pending PendingSource, cache Cache, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{Store: store, Pending: pending, Cache: cache, Logger: logger}
}

// Attach registers the projector's invalidation on l.
func (p *Projector) Attach(l *Ledger) {
	l.OnAppend(p.Invalidate)
}

// Project returns the balance for employee, category and year.
func (p *Projector) Project(ctx context.Context, employeeID EmployeeID, category Category, year int) (Balance, error) {
	key := BalanceKey{EmployeeID: employeeID, Category: category, Year: year}

	b, err := p.ledgerBalance(ctx, key)
	if err != nil {
		return Balance{}, err
	}

	if p.Pending != nil {
		pending, err := p.Pending.PendingHours(ctx, employeeID, category, year)
		if err != nil {
			return Balance{}, &BalanceUnavailableError{Key: key, Err: err}
		}
		b.Pending = pending
	}
	return b, nil
}

// ProjectAll returns one balance per category for the year.
func (p *Projector) ProjectAll(ctx context.Context, employeeID EmployeeID, year int) ([]Balance, error) {
	out := make([]Balance, 0, len(Categories))
	for _, c := range Categories {
		b, err := p.Project(ctx, employeeID, c, year)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Rebuild projects straight from the ledger, bypassing and refreshing the cache.
func (p *Projector) Rebuild(ctx context.Context, key BalanceKey) (Balance, error) {
	cacheable := p.Cache != nil
	var gen uint64
	if cacheable {
		g, err := p.Cache.Generation(ctx, key)
		if err != nil {
			p.Logger.WarnContext(ctx, "balance cache generation unavailable", "key", key.String(), "error", err)
			cacheable = false
		}
		gen = g
	}

	txs, err := p.Store.ListForPeriod(ctx, key.EmployeeID, key.Category, key.Year)
	if err != nil {
		return Balance{}, &BalanceUnavailableError{Key: key, Err: err}
	}
	b := Compute(key, txs)

	if cacheable {
		stored, err := p.Cache.SetIf(ctx, key, b, gen)
		switch {
		case err != nil:
			p.Logger.WarnContext(ctx, "balance cache set failed", "key", key.String(), "error", err)
		case !stored:
			p.Logger.DebugContext(ctx, "balance changed during rebuild, not cached", "key", key.String())
		}
	}
	return b, nil
}

// Invalidate drops cached balances for keys. It matches AppendListener.
func (p *Projector) Invalidate(ctx context.Context, keys []BalanceKey) {
	if p.Cache == nil || len(keys) == 0 {
		return
	}
	if err := p.Cache.Invalidate(ctx, keys...); err != nil {
		// A stale entry would hide a ledger append; fall back to a rebuild.
		p.Logger.WarnContext(ctx, "balance cache invalidation failed", "keys", len(keys), "error", err)
		for _, k := range keys {
			_, _ = p.Rebuild(ctx, k)
		}
	}
}

func (p *Projector) ledgerBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	if p.Cache != nil {
		cached, ok, err := p.Cache.Get(ctx, key)
		switch {
		case err != nil:
			p.Logger.WarnContext(ctx, "balance cache read failed", "key", key.String(), "error", err)
		case ok:
			p.observe("hit")
			return cached, nil
		}
		p.observe("miss")
	}
	return p.Rebuild(ctx, key)
}

func (p *Projector) observe(result string) {
	if p.Recorder != nil {
		p.Recorder.BalanceCache(result)
	}
}
