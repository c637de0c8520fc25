package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"agency-billing/internal/apperr"
	"agency-billing/internal/auth"
	"agency-billing/internal/pricing"
	"agency-billing/internal/usage"

	"github.com/shopspring/decimal"
)

// UsageSource is the read side of usage.Repository that reporting needs.
//
// IMPORTANT:
// - Implementations must filter by account; reporting never sees other tenants' rows.
type UsageSource interface {
	ListForAccount(ctx context.Context, accountID string, from, to time.Time) ([]usage.Record, error)
}

type AccountDirectory interface {
	IsStrictDescendant(ctx context.Context, ancestorID, id string) (bool, error)
}

type Service struct {
	usage UsageSource
	dir   AccountDirectory
}

func NewService(src UsageSource, dir AccountDirectory) *Service {
	return &Service{usage: src, dir: dir}
}

func (s *Service) UsageSummary(ctx context.Context, viewer auth.Session, req UsageSummaryRequest) (UsageSummary, error) {
	if req.AccountID == "" {
		return UsageSummary{}, apperr.New(apperr.KindInvalidArgument, "account_id required")
	}
	r := req.Range
	if !r.From.IsZero() && !r.To.IsZero() && !r.To.After(r.From) {
		return UsageSummary{}, apperr.New(apperr.KindInvalidArgument, "range end must be after range start")
	}
	if s.usage == nil {
		return UsageSummary{}, errors.New("reporting: usage source not configured")
	}
	if err := s.authorize(ctx, viewer, req.AccountID); err != nil {
		return UsageSummary{}, err
	}

	rows, err := s.usage.ListForAccount(ctx, req.AccountID, r.From, r.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{AccountID: req.AccountID, Range: r, TotalBilledAmount: decimal.Zero, Items: []ItemUsage{}}
	items := map[string]*ItemUsage{}
	for _, rec := range rows {
		out.TotalRecords++
		out.TotalDurationSeconds += rec.DurationSeconds
		if !rec.Billed() {
			out.UnbilledRecords++
			continue
		}

		out.BilledRecords++
		minutes := pricing.BillableMinutes(rec.DurationSeconds)
		out.BilledMinutes += minutes
		amount := decimal.Zero
		if rec.BilledAmount != nil {
			amount = *rec.BilledAmount
		}
		out.TotalBilledAmount = out.TotalBilledAmount.Add(amount)

		key := itemKey(rec)
		it, ok := items[key]
		if !ok {
			it = &ItemUsage{Key: key, BilledAmount: decimal.Zero}
			items[key] = it
		}
		it.Records++
		it.BilledMinutes += minutes
		it.BilledAmount = it.BilledAmount.Add(amount)
	}

	for _, it := range items {
		out.Items = append(out.Items, *it)
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].Key < out.Items[j].Key })
	return out, nil
}

func (s *Service) authorize(ctx context.Context, viewer auth.Session, accountID string) error {
	self := viewer.EffectiveAccountID
	if self == "" {
		return apperr.New(apperr.KindInsufficientContext, "usage summary needs a session")
	}
	if self == accountID {
		return nil
	}
	ok, err := s.dir.IsStrictDescendant(ctx, self, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindForbidden, "account %s may not view usage of %s", self, accountID)
	}
	return nil
}

func itemKey(rec usage.Record) string {
	switch rec.BillingMode {
	case usage.BillingModeProvider:
		k := rec.ProviderID + "/" + rec.ItemID
		if rec.TranscriberID != "" {
			k += "+" + rec.TranscriberID
		}
		return k
	default:
		return string(rec.BillingMode) + ":" + string(rec.Direction)
	}
}
