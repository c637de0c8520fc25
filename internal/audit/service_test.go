package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_AppendRequiresActorAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	assert.ErrorIs(t, svc.Append(context.Background(), Event{Type: EventTypeBillingSync}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Append(context.Background(), Event{ActingAccountID: "own"}), ErrInvalidEvent)
}

func TestService_AppendFillsDefaults(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0) }

	ctx := WithClientIP(context.Background(), "1.2.3.4")
	require.NoError(t, svc.LogRateOverride(ctx, "own", "a1", "c1", map[string]string{"provider_id": "openai"}))

	evs := repo.Events()
	require.Len(t, evs, 1)
	assert.NotEmpty(t, evs[0].ID)
	assert.Equal(t, "1.2.3.4", evs[0].IPAddress)
	assert.Equal(t, EventTypeRateOverride, evs[0].Type)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), evs[0].CreatedAt)
	assert.JSONEq(t, `{"provider_id":"openai"}`, evs[0].Metadata)
}

func TestService_LogImpersonation(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	require.NoError(t, svc.LogImpersonation(ctx, true, "own", "c1"))
	require.NoError(t, svc.LogImpersonation(ctx, false, "own", "c1"))

	evs := repo.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, EventTypeImpersonationStart, evs[0].Type)
	assert.Equal(t, "c1", evs[0].EffectiveAccountID)
	assert.Equal(t, EventTypeImpersonationEnd, evs[1].Type)
	assert.Equal(t, "own", evs[1].EffectiveAccountID)
	assert.Equal(t, "c1", evs[1].TargetAccountID)
}

func TestService_NilIsAnError(t *testing.T) {
	var svc *Service
	assert.Error(t, svc.Append(context.Background(), Event{ActingAccountID: "own", Type: EventTypeBillingSync}))
}

func TestPostgresRepo_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs("ev-1", "billing_sync", "system", "", "a1", "", "billing sync", `{"billed":2}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewPostgresRepo(db).Append(context.Background(), Event{
		ID: "ev-1", Type: EventTypeBillingSync, ActingAccountID: SystemActor, TargetAccountID: "a1",
		Message: "billing sync", Metadata: `{"billed":2}`, CreatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
