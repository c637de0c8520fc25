package wallet

import (
	"context"
	"fmt"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/pkg/logger"

	"github.com/shopspring/decimal"
)

// Service exposes an account's pre-funded credit balance.
//
// Money invariants:
// - No balance change without a ledger entry (see Store.Post).
// - Manual subtract never takes a balance below zero. Usage debits may; they
//   go through the billing engine, not through this service.
type Service struct {
	store Store
	dir   AccountDirectory
	audit *audit.Service
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

// AccountDirectory is the subset of accounts.Directory credits need.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
	IsDirectChild(ctx context.Context, parentID, childID string) (bool, error)
}

const defaultLedgerLimit = 50

// NewService wires the credits service. auditSvc may be nil.
func NewService(store Store, dir AccountDirectory, auditSvc *audit.Service) *Service {
	return &Service{store: store, dir: dir, audit: auditSvc, clock: time.Now}
}

func (s *Service) GetCredits(ctx context.Context, viewer auth.Session, accountID string) (Credits, error) {
	if err := s.authorize(ctx, viewer, accountID, false); err != nil {
		return Credits{}, err
	}
	b, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		return Credits{}, err
	}
	return Credits{AccountID: accountID, Balance: b}, nil
}

func (s *Service) ListLedger(ctx context.Context, viewer auth.Session, accountID string, limit int) ([]LedgerEntry, error) {
	if err := s.authorize(ctx, viewer, accountID, false); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = defaultLedgerLimit
	}
	return s.store.ListLedger(ctx, accountID, limit)
}

// AdjustCredits applies a manual add, subtract or set to accountID.
func (s *Service) AdjustCredits(ctx context.Context, actor auth.Session, accountID string, req AdjustRequest) (LedgerEntry, error) {
	if err := validateAdjust(req); err != nil {
		return LedgerEntry{}, err
	}
	if err := s.authorize(ctx, actor, accountID, true); err != nil {
		return LedgerEntry{}, err
	}

	entryType := LedgerEntryTypeAdjustment
	if req.Op == OpAdd {
		entryType = LedgerEntryTypeCredit
	}
	actingID := actor.ActingAccountID

	entry, err := s.store.Post(ctx, LedgerEntry{
		AccountID:      accountID,
		Type:           entryType,
		ActorAccountID: &actingID,
		Note:           req.Reason,
		CreatedAt:      s.clock().UTC(),
	}, adjustMutation(req))
	if err != nil {
		return LedgerEntry{}, err
	}

	if s.audit != nil {
		meta := map[string]string{
			"op":            string(req.Op),
			"amount":        req.Amount.String(),
			"balance_after": entry.BalanceAfter.String(),
			"ledger_id":     entry.ID,
		}
		msg := fmt.Sprintf("credits %s %s", req.Op, req.Amount)
		if err := s.audit.LogCreditAdjustment(ctx, actor.ActingAccountID, actor.EffectiveAccountID, accountID, msg, meta); err != nil {
			logger.From(ctx).Warn("audit append failed", "event", audit.EventTypeCreditAdjustment, "err", err)
		}
	}
	return entry, nil
}

func adjustMutation(req AdjustRequest) Mutation {
	return func(cur decimal.Decimal) (decimal.Decimal, error) {
		switch req.Op {
		case OpAdd:
			return req.Amount, nil
		case OpSubtract:
			if cur.LessThan(req.Amount) {
				return decimal.Zero, apperr.New(apperr.KindInsufficientCredits, "balance %s is less than %s", cur, req.Amount).
					With("balance", cur.String()).
					With("amount", req.Amount.String())
			}
			return req.Amount.Neg(), nil
		case OpSet:
			return req.Amount.Sub(cur), nil
		default:
			return decimal.Zero, apperr.New(apperr.KindInvalidArgument, "unknown op %q", req.Op)
		}
	}
}

// authorize is the permission table for credits: the effective account may
// view its own balance; OWNER may view and modify any account; AGENCY its
// own CLIENT accounts. Nobody but the OWNER modifies their own balance.
func (s *Service) authorize(ctx context.Context, who auth.Session, accountID string, modify bool) error {
	if who.EffectiveAccountID == "" {
		return apperr.New(apperr.KindInsufficientContext, "no session")
	}
	if accountID == "" {
		return apperr.New(apperr.KindInvalidArgument, "account id required")
	}
	target, err := s.dir.Get(ctx, accountID)
	if err != nil {
		return err
	}

	switch who.EffectiveRole {
	case accounts.RoleOwner:
		return nil
	case accounts.RoleAgency:
		if !modify && target.ID == who.EffectiveAccountID {
			return nil
		}
		if target.Role == accounts.RoleClient {
			ok, err := s.dir.IsDirectChild(ctx, who.EffectiveAccountID, target.ID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	case accounts.RoleClient:
		if !modify && target.ID == who.EffectiveAccountID {
			return nil
		}
	default:
		return fmt.Errorf("wallet: unhandled role %q", who.EffectiveRole)
	}
	return apperr.New(apperr.KindForbidden, "%s account %s may not access credits of %s", who.EffectiveRole, who.EffectiveAccountID, accountID)
}

func validateAdjust(req AdjustRequest) error {
	switch req.Op {
	case OpAdd, OpSubtract:
		if !req.Amount.IsPositive() {
			return apperr.New(apperr.KindInvalidArgument, "amount must be > 0")
		}
	case OpSet:
		if req.Amount.IsNegative() {
			return apperr.New(apperr.KindInvalidArgument, "amount must be >= 0")
		}
	default:
		return apperr.New(apperr.KindInvalidArgument, "op must be one of add, subtract, set")
	}
	return nil
}
