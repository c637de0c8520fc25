package reporting

import (
	"context"
	"testing"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/auth"
	"agency-billing/internal/usage"
	"agency-billing/internal/wallet"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func session(id string, role accounts.Role) auth.Session {
	return auth.Session{ActingAccountID: id, ActingRole: role, EffectiveAccountID: id, EffectiveRole: role}
}

func setup(t *testing.T) (*Service, *usage.MemoryRepo, time.Time) {
	t.Helper()
	accs := accounts.NewMemoryRepo(
		accounts.Account{ID: "own", Role: accounts.RoleOwner},
		accounts.Account{ID: "a1", Role: accounts.RoleAgency, ParentAccountID: ptr("own")},
		accounts.Account{ID: "a2", Role: accounts.RoleAgency, ParentAccountID: ptr("own")},
		accounts.Account{ID: "c1", Role: accounts.RoleClient, ParentAccountID: ptr("a1"), CreditBalance: decimal.NewFromInt(5)},
		accounts.Account{ID: "c2", Role: accounts.RoleClient, ParentAccountID: ptr("a2")},
	)
	repo := usage.NewMemoryRepo(wallet.NewMemoryStore(accs))
	return NewService(repo, accounts.NewDirectory(accs)), repo, time.Unix(1700000000, 0).UTC()
}

func insert(t *testing.T, repo *usage.MemoryRepo, rec usage.Record, billAmount string) {
	t.Helper()
	ctx := context.Background()
	if rec.Direction == "" {
		rec.Direction = usage.DirectionOutbound
	}
	if rec.BillingMode == "" {
		rec.BillingMode = usage.BillingModeProvider
	}
	rec, err := repo.Insert(ctx, rec)
	require.NoError(t, err)
	if billAmount == "" {
		return
	}
	_, err = repo.Claim(ctx, usage.Claim{
		RecordID:  rec.ID,
		AccountID: rec.AccountID,
		Amount:    decimal.RequireFromString(billAmount),
		BilledAt:  rec.CreatedAt.Add(time.Minute),
	})
	require.NoError(t, err)
}

func TestUsageSummary_Aggregates(t *testing.T) {
	svc, repo, now := setup(t)
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 125, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: now}, "0.21")
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o", TranscriberID: "deepgram", CreatedAt: now}, "0.09")
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 30, BillingMode: usage.BillingModeDirection, CreatedAt: now}, "0.10")
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 45, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: now}, "")
	insert(t, repo, usage.Record{AccountID: "c2", DurationSeconds: 600, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: now}, "")

	out, err := svc.UsageSummary(context.Background(), session("c1", accounts.RoleClient), UsageSummaryRequest{
		AccountID: "c1",
		Range:     TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, out.TotalRecords)
	assert.Equal(t, 3, out.BilledRecords)
	assert.Equal(t, 1, out.UnbilledRecords)
	assert.Equal(t, 260, out.TotalDurationSeconds)
	assert.Equal(t, 5, out.BilledMinutes)
	assert.True(t, out.TotalBilledAmount.Equal(decimal.RequireFromString("0.40")), "got %s", out.TotalBilledAmount)

	require.Len(t, out.Items, 3)
	assert.Equal(t, "direction:outbound", out.Items[0].Key)
	assert.Equal(t, "openai/gpt-4o", out.Items[1].Key)
	assert.Equal(t, 3, out.Items[1].BilledMinutes)
	assert.Equal(t, "openai/gpt-4o+deepgram", out.Items[2].Key)
}

func TestUsageSummary_RangeFilters(t *testing.T) {
	svc, repo, now := setup(t)
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: now.Add(-2 * time.Hour)}, "0.05")
	insert(t, repo, usage.Record{AccountID: "c1", DurationSeconds: 60, ProviderID: "openai", ItemID: "gpt-4o", CreatedAt: now}, "0.05")

	out, err := svc.UsageSummary(context.Background(), session("c1", accounts.RoleClient), UsageSummaryRequest{
		AccountID: "c1",
		Range:     TimeRange{From: now.Add(-time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.TotalRecords)

	out, err = svc.UsageSummary(context.Background(), session("c1", accounts.RoleClient), UsageSummaryRequest{AccountID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.TotalRecords)
}

func TestUsageSummary_Isolation(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	cases := []struct {
		viewer  auth.Session
		account string
		err     error
	}{
		{session("own", accounts.RoleOwner), "c2", nil},
		{session("a1", accounts.RoleAgency), "c1", nil},
		{session("a1", accounts.RoleAgency), "c2", apperr.Forbidden},
		{session("c1", accounts.RoleClient), "c2", apperr.Forbidden},
		{session("c1", accounts.RoleClient), "a1", apperr.Forbidden},
		{auth.Session{}, "c1", apperr.InsufficientContext},
	}
	for _, tc := range cases {
		_, err := svc.UsageSummary(ctx, tc.viewer, UsageSummaryRequest{AccountID: tc.account})
		if tc.err == nil {
			assert.NoError(t, err, "%s -> %s", tc.viewer.EffectiveAccountID, tc.account)
			continue
		}
		assert.ErrorIs(t, err, tc.err, "%s -> %s", tc.viewer.EffectiveAccountID, tc.account)
	}
}

func TestUsageSummary_InvalidRequest(t *testing.T) {
	svc, _, now := setup(t)
	ctx := context.Background()
	viewer := session("own", accounts.RoleOwner)

	_, err := svc.UsageSummary(ctx, viewer, UsageSummaryRequest{})
	assert.ErrorIs(t, err, apperr.InvalidArgument)

	_, err = svc.UsageSummary(ctx, viewer, UsageSummaryRequest{AccountID: "c1", Range: TimeRange{From: now, To: now}})
	assert.ErrorIs(t, err, apperr.InvalidArgument)
}
