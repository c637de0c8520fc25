// Package billing debits pre-funded credit balances for metered usage.
//
// A sync pass prices every unbilled usage record in scope and claims it
// through usage.Repository.Claim, which marks the record billed, debits the
// account and writes the ledger entry in one transaction. The claim's
// conditional update is the only mutual exclusion: passes may run
// concurrently and on any schedule without double-charging.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/pricing"
	"agency-billing/internal/usage"
	"agency-billing/pkg/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// AccountDirectory is the subset of accounts.Directory billing needs.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
	IsStrictDescendant(ctx context.Context, ancestorID, id string) (bool, error)
	ListSubtree(ctx context.Context, rootID string) ([]string, error)
}

// RateResolver is implemented by *pricing.Service.
type RateResolver interface {
	Resolve(ctx context.Context, accountID, providerID, itemID string) (decimal.Decimal, error)
}

// Deps wires an Engine. Audit, Metrics and Gate are optional.
type Deps struct {
	Usage    usage.Repository
	Accounts AccountDirectory
	Rates    RateResolver
	Audit    *audit.Service
	Metrics  *Metrics
	Gate     Gate
	// Workers bounds concurrent claims within one pass.
	Workers int
	// PageSize is how many unbilled records one listing returns; zero means
	// usage.DefaultPageSize.
	PageSize int
}

type Engine struct {
	usage    usage.Repository
	dir      AccountDirectory
	rates    RateResolver
	audit    *audit.Service
	metrics  *Metrics
	gate     Gate
	workers  int
	pageSize int
	clock    func() time.Time
}

const defaultWorkers = 8

func NewEngine(d Deps) *Engine {
	w := d.Workers
	if w <= 0 {
		w = defaultWorkers
	}
	page := d.PageSize
	if page <= 0 {
		page = usage.DefaultPageSize
	}
	return &Engine{
		usage:    d.Usage,
		dir:      d.Accounts,
		rates:    d.Rates,
		audit:    d.Audit,
		metrics:  d.Metrics,
		gate:     d.Gate,
		workers:  w,
		pageSize: page,
		clock:    time.Now,
	}
}

// SyncRequest is one triggered sync. ActingAccountID is recorded in the
// audit trail; unattended runs use audit.SystemActor.
type SyncRequest struct {
	Scope           *string
	Trigger         Trigger
	ActingAccountID string
}

// Sync runs SyncBilling for a trigger. Auto triggers first take the scope's
// gate slot and return a Skipped summary when another pass holds it; a gate
// failure is logged and the pass runs anyway.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (Summary, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}
	ctx = logger.WithAttrs(ctx, "trigger", string(trigger))
	log := logger.From(ctx)

	if trigger == TriggerAuto && e.gate != nil {
		key := "all"
		if req.Scope != nil {
			key = *req.Scope
		}
		release, ok, err := e.gate.TryAcquire(ctx, key)
		switch {
		case err != nil:
			log.Warn("billing gate unavailable, syncing anyway", "scope", key, "err", err)
		case !ok:
			e.metrics.skipped()
			return Summary{Scope: scopeString(req.Scope), Skipped: true, TotalCharged: decimal.Zero,
				Errors: []RecordError{}, NegativeBalances: []NegativeBalance{}}, nil
		default:
			defer release()
		}
	}

	start := e.clock()
	sum, err := e.SyncBilling(ctx, req.Scope)
	e.metrics.observe(trigger, sum, e.clock().Sub(start).Seconds())
	if err != nil {
		return sum, err
	}

	actor := req.ActingAccountID
	if actor == "" {
		actor = audit.SystemActor
	}
	if e.audit != nil && (sum.BilledCount > 0 || len(sum.Errors) > 0) {
		meta := map[string]any{
			"trigger":       trigger,
			"billed_count":  sum.BilledCount,
			"total_charged": sum.TotalCharged.String(),
			"error_count":   len(sum.Errors),
		}
		if err := e.audit.LogBillingSync(ctx, actor, sum.Scope, meta); err != nil {
			log.Warn("audit append failed", "event", audit.EventTypeBillingSync, "err", err)
		}
	}
	return sum, nil
}

// SyncBilling bills every unbilled record under scope (all accounts when nil).
// Only an unknown scope or a failure to list records fails the call; record
// level problems are reported in the summary.
func (e *Engine) SyncBilling(ctx context.Context, scope *string) (Summary, error) {
	log := logger.From(ctx)
	sum := Summary{
		Scope:            scopeString(scope),
		TotalCharged:     decimal.Zero,
		Errors:           []RecordError{},
		NegativeBalances: []NegativeBalance{},
	}

	var accountIDs []string
	if scope != nil {
		ids, err := e.dir.ListSubtree(ctx, *scope)
		if err != nil {
			return sum, err
		}
		accountIDs = ids
	}

	var (
		mu       sync.Mutex
		negative = map[string]decimal.Decimal{}
		seen     int
		after    *usage.Cursor
		waitErr  error
	)
	// Pages advance by cursor, not by re-listing from the start: records that
	// stay unbilled (no rate yet) must not hide newer ones behind them.
	for {
		page, err := e.usage.ListUnbilled(ctx, accountIDs, after, e.pageSize)
		if err != nil {
			return sum, fmt.Errorf("billing: list unbilled: %w", err)
		}
		seen += len(page)

		waitErr = e.billPage(ctx, page, &sum, &mu, negative)
		if waitErr != nil || len(page) < e.pageSize {
			break
		}
		after = usage.CursorAfter(page[len(page)-1])
	}

	for id, b := range negative {
		sum.NegativeBalances = append(sum.NegativeBalances, NegativeBalance{AccountID: id, Balance: b})
	}
	sort.Slice(sum.NegativeBalances, func(i, j int) bool { return sum.NegativeBalances[i].AccountID < sum.NegativeBalances[j].AccountID })
	sort.Slice(sum.Errors, func(i, j int) bool { return sum.Errors[i].RecordID < sum.Errors[j].RecordID })

	if waitErr != nil {
		return sum, waitErr
	}

	log.Info("billing sync",
		"scope", sum.Scope,
		"candidates", seen,
		"billed", sum.BilledCount,
		"total_charged", sum.TotalCharged.String(),
		"skipped", sum.SkippedCount,
		"errors", len(sum.Errors),
		"negative_balances", len(sum.NegativeBalances),
	)
	return sum, nil
}

// billPage claims one page of records with at most e.workers in flight and
// folds the outcomes into sum. It returns a context error if the pass was
// cancelled; record failures only land in sum.Errors.
func (e *Engine) billPage(ctx context.Context, recs []usage.Record, sum *Summary, mu *sync.Mutex, negative map[string]decimal.Decimal) error {
	log := logger.From(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, rec := range recs {
		rec := rec
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			amount, balance, err := e.billRecord(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, usage.ErrAlreadyBilled):
				sum.SkippedCount++
			case err != nil:
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				re := recordError(rec, err)
				sum.Errors = append(sum.Errors, re)
				log.Warn("usage record not billed", "record_id", rec.ID, "account_id", rec.AccountID, "kind", re.Kind, "err", err)
			default:
				sum.BilledCount++
				sum.TotalCharged = sum.TotalCharged.Add(amount)
				if balance.IsNegative() {
					if prev, ok := negative[rec.AccountID]; !ok || balance.LessThan(prev) {
						negative[rec.AccountID] = balance
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Price returns what rec costs: billable minutes times the per-minute rate.
func (e *Engine) Price(ctx context.Context, rec usage.Record) (decimal.Decimal, error) {
	rate, err := e.rateFor(ctx, rec)
	if err != nil {
		return decimal.Zero, err
	}
	minutes := decimal.NewFromInt(int64(pricing.BillableMinutes(rec.DurationSeconds)))
	return minutes.Mul(rate), nil
}

func (e *Engine) billRecord(ctx context.Context, rec usage.Record) (amount, balance decimal.Decimal, err error) {
	amount, err = e.Price(ctx, rec)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	balance, err = e.usage.Claim(ctx, usage.Claim{
		RecordID:  rec.ID,
		AccountID: rec.AccountID,
		Amount:    amount,
		BilledAt:  e.clock().UTC(),
	})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return amount, balance, nil
}

func (e *Engine) rateFor(ctx context.Context, rec usage.Record) (decimal.Decimal, error) {
	switch rec.BillingMode {
	case usage.BillingModeDirection:
		acc, err := e.dir.Get(ctx, rec.AccountID)
		if err != nil {
			return decimal.Zero, err
		}
		if rec.Direction == usage.DirectionInbound {
			return acc.InboundRatePerMinute, nil
		}
		return acc.OutboundRatePerMinute, nil

	case usage.BillingModeProvider:
		rate, err := e.rates.Resolve(ctx, rec.AccountID, rec.ProviderID, rec.ItemID)
		if err != nil {
			return decimal.Zero, err
		}
		if rec.TranscriberID != "" {
			tr, err := e.rates.Resolve(ctx, rec.AccountID, pricing.TranscriberProvider, rec.TranscriberID)
			if err != nil {
				return decimal.Zero, err
			}
			rate = rate.Add(tr)
		}
		return rate, nil

	default:
		return decimal.Zero, apperr.New(apperr.KindInvalidArgument, "record %s has unknown billing mode %q", rec.ID, rec.BillingMode)
	}
}

// ScopeFor turns the scope a caller asked for into the scope it may sync.
// OWNER may sync everything (empty request) or any subtree; AGENCY and
// CLIENT default to their own subtree and may not reach outside it.
func (e *Engine) ScopeFor(ctx context.Context, s auth.Session, requested string) (*string, error) {
	self := s.EffectiveAccountID
	if self == "" {
		return nil, apperr.New(apperr.KindInsufficientContext, "billing sync needs a session")
	}

	switch s.EffectiveRole {
	case accounts.RoleOwner:
		if requested == "" {
			return nil, nil
		}
		if _, err := e.dir.Get(ctx, requested); err != nil {
			return nil, err
		}
		return &requested, nil
	case accounts.RoleAgency, accounts.RoleClient:
		if requested == "" || requested == self {
			return &self, nil
		}
		ok, err := e.dir.IsStrictDescendant(ctx, self, requested)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.New(apperr.KindForbidden, "account %s may not sync billing for %s", self, requested)
		}
		return &requested, nil
	default:
		return nil, fmt.Errorf("billing: unhandled role %q", s.EffectiveRole)
	}
}

func recordError(rec usage.Record, err error) RecordError {
	kind := apperr.KindOf(err)
	if kind == "" {
		kind = kindInternal
	}
	return RecordError{RecordID: rec.ID, AccountID: rec.AccountID, Kind: kind, Message: err.Error()}
}

func scopeString(scope *string) string {
	if scope == nil {
		return ""
	}
	return *scope
}
