package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// Callers treat audit logging as best-effort: a failed append is logged by
// the caller and never undoes the action it describes.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ActingAccountID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// LogImpersonation records the start (started=true) or the end of an
// impersonation. For the end event target is the account being left.
func (s *Service) LogImpersonation(ctx context.Context, started bool, actingID, targetID string) error {
	e := Event{
		Type:               EventTypeImpersonationEnd,
		ActingAccountID:    actingID,
		EffectiveAccountID: actingID,
		TargetAccountID:    targetID,
		Message:            "returned to own account",
	}
	if started {
		e.Type = EventTypeImpersonationStart
		e.EffectiveAccountID = targetID
		e.Message = "switched into account"
	}
	return s.Append(ctx, e)
}

// LogRateOverride records a rate write. target is "" for base rates.
func (s *Service) LogRateOverride(ctx context.Context, actingID, effectiveID, targetID string, metadata any) error {
	return s.Append(ctx, Event{
		Type:               EventTypeRateOverride,
		ActingAccountID:    actingID,
		EffectiveAccountID: effectiveID,
		TargetAccountID:    targetID,
		Message:            "rates updated",
		Metadata:           encodeMetadata(metadata),
	})
}

func (s *Service) LogCreditAdjustment(ctx context.Context, actingID, effectiveID, targetID, message string, metadata any) error {
	return s.Append(ctx, Event{
		Type:               EventTypeCreditAdjustment,
		ActingAccountID:    actingID,
		EffectiveAccountID: effectiveID,
		TargetAccountID:    targetID,
		Message:            message,
		Metadata:           encodeMetadata(metadata),
	})
}

func (s *Service) LogBillingSync(ctx context.Context, actingID, scopeID string, metadata any) error {
	return s.Append(ctx, Event{
		Type:            EventTypeBillingSync,
		ActingAccountID: actingID,
		TargetAccountID: scopeID,
		Message:         "billing sync",
		Metadata:        encodeMetadata(metadata),
	})
}

func encodeMetadata(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
