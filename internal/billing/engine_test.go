package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/internal/pricing"
	"agency-billing/internal/usage"
	"agency-billing/internal/wallet"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	engine *Engine
	dir    *accounts.Directory
	usage  *usage.MemoryRepo
	store  *wallet.MemoryStore
	prices *pricing.Service
	audit  *audit.MemoryRepo
	gate   *MemoryGate
	reg    *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	accs := accounts.NewMemoryRepo(
		accounts.Account{ID: "own", Role: accounts.RoleOwner},
		accounts.Account{ID: "a1", Role: accounts.RoleAgency, ParentAccountID: ptr("own")},
		accounts.Account{ID: "a2", Role: accounts.RoleAgency, ParentAccountID: ptr("own")},
		accounts.Account{ID: "c1", Role: accounts.RoleClient, ParentAccountID: ptr("a1"), CreditBalance: dec("10"),
			OutboundRatePerMinute: dec("0.10"), InboundRatePerMinute: dec("0.05")},
		accounts.Account{ID: "c2", Role: accounts.RoleClient, ParentAccountID: ptr("a2"), CreditBalance: dec("0.10")},
	)
	dir := accounts.NewDirectory(accs)
	store := wallet.NewMemoryStore(accs)
	usageRepo := usage.NewMemoryRepo(store)
	prices := pricing.NewService(pricing.NewMemoryRepo(), dir)

	ctx := context.Background()
	require.NoError(t, prices.SetAccountRate(ctx, "own", nil, "openai", "gpt-4o", dec("0.05")))
	require.NoError(t, prices.SetAccountRate(ctx, "own", nil, pricing.TranscriberProvider, "deepgram", dec("0.02")))
	require.NoError(t, prices.SetAccountRate(ctx, "a1", ptr("c1"), "openai", "gpt-4o", dec("0.07")))

	auditRepo := audit.NewMemoryRepo()
	gate := NewMemoryGate()
	reg := prometheus.NewRegistry()
	return fixture{
		engine: NewEngine(Deps{
			Usage:    usageRepo,
			Accounts: dir,
			Rates:    prices,
			Audit:    audit.NewService(auditRepo),
			Metrics:  NewMetrics(reg),
			Gate:     gate,
			Workers:  4,
		}),
		dir:    dir,
		usage:  usageRepo,
		store:  store,
		prices: prices,
		audit:  auditRepo,
		gate:   gate,
		reg:    reg,
	}
}

func (f fixture) record(t *testing.T, r usage.Record) usage.Record {
	t.Helper()
	if r.Direction == "" {
		r.Direction = usage.DirectionOutbound
	}
	if r.BillingMode == "" {
		r.BillingMode = usage.BillingModeProvider
	}
	out, err := f.usage.Insert(context.Background(), r)
	require.NoError(t, err)
	return out
}

func (f fixture) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestSyncBilling_Scenario(t *testing.T) {
	f := newFixture(t)
	rec := f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 125, ProviderID: "openai", ItemID: "gpt-4o"})

	sum, err := f.engine.SyncBilling(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BilledCount)
	assert.True(t, sum.TotalCharged.Equal(dec("0.21")), "got %s", sum.TotalCharged)
	assert.Empty(t, sum.Errors)

	got, ok := f.usage.Get(rec.ID)
	require.True(t, ok)
	require.NotNil(t, got.BilledAt)
	assert.True(t, got.BilledAmount.Equal(dec("0.21")))
	assert.True(t, f.balance(t, "c1").Equal(dec("9.79")))

	ledger, err := f.store.ListLedger(context.Background(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, wallet.LedgerEntryTypeUsageDebit, ledger[0].Type)
	assert.Equal(t, rec.ID, *ledger[0].UsageRecordID)
}

func TestSyncBilling_Idempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})
	}
	ctx := context.Background()

	first, err := f.engine.SyncBilling(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, first.BilledCount)

	second, err := f.engine.SyncBilling(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, second.BilledCount)
	assert.True(t, second.TotalCharged.IsZero())
	assert.True(t, f.balance(t, "c1").Equal(dec("9.65")))
}

func TestSyncBilling_ConcurrentPassesNeverDoubleDebit(t *testing.T) {
	f := newFixture(t)
	const n = 60
	for i := 0; i < n; i++ {
		f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 61, ProviderID: "openai", ItemID: "gpt-4o"})
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sums []Summary
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := f.engine.SyncBilling(context.Background(), nil)
			assert.NoError(t, err)
			mu.Lock()
			sums = append(sums, s)
			mu.Unlock()
		}()
	}
	wg.Wait()

	billed := 0
	total := decimal.Zero
	for _, s := range sums {
		billed += s.BilledCount
		total = total.Add(s.TotalCharged)
	}
	// Sequentially: 60 records x 2 minutes x 0.07.
	assert.Equal(t, n, billed)
	assert.True(t, total.Equal(dec("8.40")), "got %s", total)
	assert.True(t, f.balance(t, "c1").Equal(dec("1.60")))

	ledger, err := f.store.ListLedger(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.Len(t, ledger, n)
}

func TestSyncBilling_PerRecordErrorsDoNotAbortBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 30, ProviderID: "openai", ItemID: "gpt-4o"})
	unpriced := f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 30, ProviderID: "openai", ItemID: "o3"})
	orphan := f.record(t, usage.Record{AccountID: "ghost", DurationSeconds: 30, BillingMode: usage.BillingModeDirection})

	sum, err := f.engine.SyncBilling(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BilledCount)
	require.Len(t, sum.Errors, 2)

	kinds := map[string]apperr.Kind{}
	for _, e := range sum.Errors {
		kinds[e.RecordID] = e.Kind
	}
	assert.Equal(t, apperr.KindRateNotConfigured, kinds[unpriced.ID])
	assert.Equal(t, apperr.KindNotFound, kinds[orphan.ID])

	got, _ := f.usage.Get(good.ID)
	assert.True(t, got.Billed())
	got, _ = f.usage.Get(unpriced.ID)
	assert.False(t, got.Billed(), "unpriced record stays unbilled for a later retry")

	// Once the platform prices the item, the next pass picks it up.
	require.NoError(t, f.prices.SetAccountRate(ctx, "own", nil, "openai", "o3", dec("0.20")))
	sum, err = f.engine.SyncBilling(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BilledCount)
	assert.True(t, sum.TotalCharged.Equal(dec("0.20")))
	assert.Len(t, sum.Errors, 1)
}

func TestSyncBilling_UnpriceableBacklogDoesNotStarveNewerRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := NewEngine(Deps{Usage: f.usage, Accounts: f.dir, Rates: f.prices, Workers: 2, PageSize: 2})

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		f.record(t, usage.Record{ID: fmt.Sprintf("old-%d", i), AccountID: "c1", DurationSeconds: 60,
			ProviderID: "openai", ItemID: "o3", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	fresh := []usage.Record{
		f.record(t, usage.Record{ID: "new-0", AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: base.Add(time.Hour)}),
		f.record(t, usage.Record{ID: "new-1", AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: base.Add(time.Hour + time.Second)}),
	}

	sum, err := engine.SyncBilling(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.BilledCount)
	assert.True(t, sum.TotalCharged.Equal(dec("0.14")))
	require.Len(t, sum.Errors, 4)
	for _, e := range sum.Errors {
		assert.Equal(t, apperr.KindRateNotConfigured, e.Kind, e.RecordID)
	}
	for _, rec := range fresh {
		got, _ := f.usage.Get(rec.ID)
		assert.True(t, got.Billed(), rec.ID)
	}
	assert.True(t, f.balance(t, "c1").Equal(dec("9.86")))
}

func TestSyncBilling_NegativeBalancesReported(t *testing.T) {
	f := newFixture(t)
	f.record(t, usage.Record{AccountID: "c2", DurationSeconds: 180, ProviderID: "openai", ItemID: "gpt-4o"})
	f.record(t, usage.Record{AccountID: "c2", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})

	sum, err := f.engine.SyncBilling(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.BilledCount)
	require.Len(t, sum.NegativeBalances, 1)
	assert.Equal(t, "c2", sum.NegativeBalances[0].AccountID)
	assert.True(t, sum.NegativeBalances[0].Balance.Equal(dec("-0.10")), "got %s", sum.NegativeBalances[0].Balance)
	assert.True(t, f.balance(t, "c2").Equal(dec("-0.10")))
}

func TestSyncBilling_Scope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inA1 := f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})
	inA2 := f.record(t, usage.Record{AccountID: "c2", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})

	sum, err := f.engine.SyncBilling(ctx, ptr("a1"))
	require.NoError(t, err)
	assert.Equal(t, "a1", sum.Scope)
	assert.Equal(t, 1, sum.BilledCount)

	got, _ := f.usage.Get(inA1.ID)
	assert.True(t, got.Billed())
	got, _ = f.usage.Get(inA2.ID)
	assert.False(t, got.Billed())

	_, err = f.engine.SyncBilling(ctx, ptr("ghost"))
	assert.ErrorIs(t, err, apperr.NotFound)
}

func TestPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rec  usage.Record
		want string
	}{
		{"override", usage.Record{AccountID: "c1", DurationSeconds: 125, BillingMode: usage.BillingModeProvider, ProviderID: "openai", ItemID: "gpt-4o"}, "0.21"},
		{"base", usage.Record{AccountID: "c2", DurationSeconds: 125, BillingMode: usage.BillingModeProvider, ProviderID: "openai", ItemID: "gpt-4o"}, "0.15"},
		{"model plus transcriber", usage.Record{AccountID: "c1", DurationSeconds: 60, BillingMode: usage.BillingModeProvider, ProviderID: "openai", ItemID: "gpt-4o", TranscriberID: "deepgram"}, "0.09"},
		{"outbound flat", usage.Record{AccountID: "c1", DurationSeconds: 90, BillingMode: usage.BillingModeDirection, Direction: usage.DirectionOutbound}, "0.20"},
		{"inbound flat", usage.Record{AccountID: "c1", DurationSeconds: 90, BillingMode: usage.BillingModeDirection, Direction: usage.DirectionInbound}, "0.10"},
		{"zero duration", usage.Record{AccountID: "c1", BillingMode: usage.BillingModeDirection, Direction: usage.DirectionInbound}, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.engine.Price(ctx, tc.rec)
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}

	_, err := f.engine.Price(ctx, usage.Record{AccountID: "c1", DurationSeconds: 60, BillingMode: usage.BillingModeProvider,
		ProviderID: "openai", ItemID: "gpt-4o", TranscriberID: "whisper-x"})
	assert.ErrorIs(t, err, apperr.RateNotConfigured)
}

func TestSync_AutoTriggerRespectsGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})

	release, ok, err := f.gate.TryAcquire(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := f.engine.Sync(ctx, SyncRequest{Scope: ptr("a1"), Trigger: TriggerAuto, ActingAccountID: "a1"})
	require.NoError(t, err)
	assert.True(t, sum.Skipped)
	assert.Zero(t, sum.BilledCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.engine.metrics.syncsSkipped))

	// Manual syncs never wait on the gate.
	sum, err = f.engine.Sync(ctx, SyncRequest{Scope: ptr("a1"), Trigger: TriggerManual, ActingAccountID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.BilledCount)

	release()
	sum, err = f.engine.Sync(ctx, SyncRequest{Scope: ptr("a1"), Trigger: TriggerAuto})
	require.NoError(t, err)
	assert.False(t, sum.Skipped)

	// The slot is free again after an auto pass.
	_, ok, err = f.gate.TryAcquire(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSync_AuditsAndCountsMetrics(t *testing.T) {
	f := newFixture(t)
	f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 125, ProviderID: "openai", ItemID: "gpt-4o"})
	f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "nobody", ItemID: "nothing"})

	_, err := f.engine.Sync(context.Background(), SyncRequest{})
	require.NoError(t, err)

	evs := f.audit.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.EventTypeBillingSync, evs[0].Type)
	assert.Equal(t, audit.SystemActor, evs[0].ActingAccountID)

	m := f.engine.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsBilled))
	assert.InDelta(t, 0.21, testutil.ToFloat64(m.amountCharged), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordErrors.WithLabelValues(string(apperr.KindRateNotConfigured))))
}

func TestScopeFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := func(id string, role accounts.Role) auth.Session {
		return auth.Session{ActingAccountID: id, ActingRole: role, EffectiveAccountID: id, EffectiveRole: role}
	}

	cases := []struct {
		who       auth.Session
		requested string
		want      *string
		err       error
	}{
		{sess("own", accounts.RoleOwner), "", nil, nil},
		{sess("own", accounts.RoleOwner), "c2", ptr("c2"), nil},
		{sess("own", accounts.RoleOwner), "ghost", nil, apperr.NotFound},
		{sess("a1", accounts.RoleAgency), "", ptr("a1"), nil},
		{sess("a1", accounts.RoleAgency), "c1", ptr("c1"), nil},
		{sess("a1", accounts.RoleAgency), "c2", nil, apperr.Forbidden},
		{sess("a1", accounts.RoleAgency), "own", nil, apperr.Forbidden},
		{sess("c1", accounts.RoleClient), "", ptr("c1"), nil},
		{sess("c1", accounts.RoleClient), "a1", nil, apperr.Forbidden},
		{auth.Session{}, "", nil, apperr.InsufficientContext},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("%d_%s_%s", i, tc.who.EffectiveAccountID, tc.requested), func(t *testing.T) {
			got, err := f.engine.ScopeFor(ctx, tc.who, tc.requested)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSyncBilling_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.record(t, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.SyncBilling(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseTrigger(t *testing.T) {
	tr, err := ParseTrigger("")
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, tr)

	tr, err = ParseTrigger("auto")
	require.NoError(t, err)
	assert.Equal(t, TriggerAuto, tr)

	_, err = ParseTrigger("cron")
	assert.ErrorIs(t, err, apperr.InvalidArgument)
}

func TestMemoryGate_ReleaseIsIdempotent(t *testing.T) {
	g := NewMemoryGate()
	release, ok, _ := g.TryAcquire(context.Background(), "k")
	require.True(t, ok)
	release()
	release()

	_, ok, _ = g.TryAcquire(context.Background(), "k")
	assert.True(t, ok)
	_, ok, _ = g.TryAcquire(context.Background(), "k")
	assert.False(t, ok)
}
