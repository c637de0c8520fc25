package pricing

import (
	"context"
	"fmt"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"

	"github.com/shopspring/decimal"
)

// Service resolves and writes per-minute rates.
//
// Contract:
// - Two layers only: an ACCOUNT override for the account itself, then GLOBAL.
// - A missing rate is an error (RateNotConfigured), never zero.
// - Agency overrides are checked against the GLOBAL floor at write time only;
//   stored overrides are not revalidated when the base price changes later.
type Service struct {
	repo  RateRepository
	dir   AccountDirectory
	clock func() time.Time
}

// RateRepository abstracts rate persistence.
// UpsertRates must apply all entries or none.
type RateRepository interface {
	FindRate(ctx context.Context, scope Scope, ownerAccountID, providerID, itemID string) (RateEntry, bool, error)
	ListRates(ctx context.Context, scope Scope, ownerAccountID string) ([]RateEntry, error)
	UpsertRates(ctx context.Context, entries []RateEntry) error
	CountRates(ctx context.Context, scope Scope) (int, error)
}

// AccountDirectory is the subset of accounts.Directory pricing needs.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
	IsDirectChild(ctx context.Context, parentID, childID string) (bool, error)
	IsStrictDescendant(ctx context.Context, ancestorID, id string) (bool, error)
}

func NewService(repo RateRepository, dir AccountDirectory) *Service {
	return &Service{repo: repo, dir: dir, clock: time.Now}
}

// Resolve returns the effective per-minute rate for accountID.
func (s *Service) Resolve(ctx context.Context, accountID, providerID, itemID string) (decimal.Decimal, error) {
	if accountID == "" || providerID == "" || itemID == "" {
		return decimal.Zero, apperr.New(apperr.KindInvalidArgument, "account, provider and item are required")
	}

	e, ok, err := s.repo.FindRate(ctx, ScopeAccount, accountID, providerID, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return e.Rate, nil
	}

	e, ok, err = s.repo.FindRate(ctx, ScopeGlobal, "", providerID, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		return e.Rate, nil
	}

	return decimal.Zero, notConfigured(providerID, itemID)
}

// SetAccountRate writes one rate. A nil targetAccountID means the base price.
func (s *Service) SetAccountRate(ctx context.Context, writerAccountID string, targetAccountID *string, providerID, itemID string, rate decimal.Decimal) error {
	_, err := s.SetRates(ctx, writerAccountID, targetAccountID, []RateInput{{ProviderID: providerID, ItemID: itemID, Rate: rate}})
	return err
}

// SetRates validates every entry against the writer's permissions and the
// floor, then upserts them together. The first violation aborts the batch.
func (s *Service) SetRates(ctx context.Context, writerAccountID string, targetAccountID *string, inputs []RateInput) ([]RateEntry, error) {
	if len(inputs) == 0 {
		return nil, apperr.New(apperr.KindInvalidArgument, "at least one rate entry is required")
	}

	grant, err := s.authorizeWrite(ctx, writerAccountID, targetAccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	out := make([]RateEntry, 0, len(inputs))
	for _, in := range inputs {
		if in.ProviderID == "" || in.ItemID == "" {
			return nil, apperr.New(apperr.KindInvalidArgument, "provider_id and item_id are required")
		}
		if in.Rate.IsNegative() {
			return nil, apperr.New(apperr.KindInvalidArgument, "rate for %s/%s must be >= 0, got %s", in.ProviderID, in.ItemID, in.Rate)
		}

		if grant.enforceFloor {
			if err := s.checkFloor(ctx, in); err != nil {
				return nil, err
			}
		}

		e := RateEntry{
			Scope:      grant.scope,
			ProviderID: in.ProviderID,
			ItemID:     in.ItemID,
			Rate:       in.Rate,
			UpdatedAt:  now,
		}
		if grant.scope == ScopeAccount {
			owner := grant.ownerID
			e.OwnerAccountID = &owner
		}
		out = append(out, e)
	}

	if err := s.repo.UpsertRates(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRates returns the base price list and accountID's overrides.
// viewerAccountID must be accountID itself or one of its ancestors.
func (s *Service) ListRates(ctx context.Context, viewerAccountID, accountID string) (RateTable, error) {
	if viewerAccountID != accountID {
		ok, err := s.dir.IsStrictDescendant(ctx, viewerAccountID, accountID)
		if err != nil {
			return RateTable{}, err
		}
		if !ok {
			return RateTable{}, apperr.New(apperr.KindForbidden, "account %s may not view rates of %s", viewerAccountID, accountID)
		}
	} else if _, err := s.dir.Get(ctx, accountID); err != nil {
		return RateTable{}, err
	}

	global, err := s.repo.ListRates(ctx, ScopeGlobal, "")
	if err != nil {
		return RateTable{}, err
	}
	overrides, err := s.repo.ListRates(ctx, ScopeAccount, accountID)
	if err != nil {
		return RateTable{}, err
	}
	return RateTable{AccountID: accountID, GlobalRates: global, AccountOverrides: overrides}, nil
}

type writeGrant struct {
	scope        Scope
	ownerID      string
	enforceFloor bool
}

// authorizeWrite is the permission table for rate writes.
func (s *Service) authorizeWrite(ctx context.Context, writerID string, targetID *string) (writeGrant, error) {
	if writerID == "" {
		return writeGrant{}, apperr.New(apperr.KindInsufficientContext, "writer account required")
	}
	writer, err := s.dir.Get(ctx, writerID)
	if err != nil {
		return writeGrant{}, err
	}
	if writer.Disabled {
		return writeGrant{}, apperr.New(apperr.KindForbidden, "account %s is disabled", writer.ID)
	}

	switch writer.Role {
	case accounts.RoleOwner:
		if targetID == nil {
			return writeGrant{scope: ScopeGlobal}, nil
		}
		if _, err := s.dir.Get(ctx, *targetID); err != nil {
			return writeGrant{}, err
		}
		return writeGrant{scope: ScopeAccount, ownerID: *targetID}, nil

	case accounts.RoleAgency:
		if targetID == nil {
			return writeGrant{}, apperr.New(apperr.KindForbidden, "only the owner may set base rates")
		}
		target, err := s.dir.Get(ctx, *targetID)
		if err != nil {
			return writeGrant{}, err
		}
		if target.Role != accounts.RoleClient {
			return writeGrant{}, apperr.New(apperr.KindForbidden, "agencies may only set rates for client accounts, %s is %s", target.ID, target.Role)
		}
		direct, err := s.dir.IsDirectChild(ctx, writer.ID, target.ID)
		if err != nil {
			return writeGrant{}, err
		}
		if !direct {
			return writeGrant{}, apperr.New(apperr.KindForbidden, "client %s does not belong to agency %s", target.ID, writer.ID)
		}
		return writeGrant{scope: ScopeAccount, ownerID: target.ID, enforceFloor: true}, nil

	case accounts.RoleClient:
		return writeGrant{}, apperr.New(apperr.KindForbidden, "client accounts cannot change rates")

	default:
		return writeGrant{}, fmt.Errorf("pricing: unhandled role %q", writer.Role)
	}
}

func (s *Service) checkFloor(ctx context.Context, in RateInput) error {
	base, ok, err := s.repo.FindRate(ctx, ScopeGlobal, "", in.ProviderID, in.ItemID)
	if err != nil {
		return err
	}
	if !ok {
		return notConfigured(in.ProviderID, in.ItemID)
	}
	if in.Rate.LessThan(base.Rate) {
		return apperr.New(apperr.KindBelowFloorRate, "rate %s for %s/%s is below the base rate %s", in.Rate, in.ProviderID, in.ItemID, base.Rate).
			With("provider_id", in.ProviderID).
			With("item_id", in.ItemID).
			With("rate", in.Rate.String()).
			With("floor", base.Rate.String())
	}
	return nil
}

func notConfigured(providerID, itemID string) error {
	return apperr.New(apperr.KindRateNotConfigured, "no rate configured for %s/%s", providerID, itemID).
		With("provider_id", providerID).
		With("item_id", itemID)
}

// BillableMinutes rounds a duration up to whole started minutes.
func BillableMinutes(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
