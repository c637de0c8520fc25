// Package session implements account switching: an OWNER or AGENCY operator
// temporarily acts inside a descendant account and later returns to its own.
//
// Sessions are stateless. Each state is a signed token (internal/auth), so
// every transition returns a new token and nothing is stored server-side.
package session

import (
	"context"
	"fmt"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/apperr"
	"agency-billing/internal/audit"
	"agency-billing/internal/auth"
	"agency-billing/pkg/logger"
)

// AccountDirectory is the subset of accounts.Directory switching needs.
type AccountDirectory interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
	IsStrictDescendant(ctx context.Context, ancestorID, id string) (bool, error)
	IsDirectChild(ctx context.Context, parentID, childID string) (bool, error)
}

// TokenIssuer is implemented by *auth.Manager.
type TokenIssuer interface {
	IssueDirect(now time.Time, acc accounts.Account) (auth.Token, error)
	IssueImpersonation(now time.Time, actor auth.Session, target accounts.Account) (auth.Token, error)
}

type Manager struct {
	dir    AccountDirectory
	tokens TokenIssuer
	audit  *audit.Service
	clock  func() time.Time
}

// NewManager wires the switcher. auditSvc may be nil.
func NewManager(dir AccountDirectory, tokens TokenIssuer, auditSvc *audit.Service) *Manager {
	return &Manager{dir: dir, tokens: tokens, audit: auditSvc, clock: time.Now}
}

// SwitchTo moves a Direct session into targetID.
//
// Nesting is not allowed: an impersonating session is rejected with
// AlreadyImpersonating before the target is even looked at.
func (m *Manager) SwitchTo(ctx context.Context, current auth.Session, targetID string) (auth.Token, error) {
	if current.ActingAccountID == "" {
		return auth.Token{}, apperr.New(apperr.KindInsufficientContext, "no session")
	}
	if current.Impersonating {
		return auth.Token{}, apperr.New(apperr.KindAlreadyImpersonating, "switch back to %s before switching again", current.ActingAccountID)
	}
	if targetID == "" {
		return auth.Token{}, apperr.New(apperr.KindInvalidArgument, "target_account_id is required")
	}

	actor, err := m.dir.Get(ctx, current.ActingAccountID)
	if err != nil {
		return auth.Token{}, err
	}
	if actor.Disabled {
		return auth.Token{}, apperr.New(apperr.KindForbidden, "account %s is disabled", actor.ID)
	}
	target, err := m.dir.Get(ctx, targetID)
	if err != nil {
		return auth.Token{}, err
	}
	if err := m.authorizeSwitch(ctx, actor, target); err != nil {
		return auth.Token{}, err
	}

	tok, err := m.tokens.IssueImpersonation(m.clock(), auth.Session{
		ActingAccountID: actor.ID,
		ActingRole:      actor.Role,
	}, target)
	if err != nil {
		return auth.Token{}, fmt.Errorf("session: issue token: %w", err)
	}

	if m.audit != nil {
		if err := m.audit.LogImpersonation(ctx, true, actor.ID, target.ID); err != nil {
			logger.From(ctx).Warn("audit append failed", "event", audit.EventTypeImpersonationStart, "err", err)
		}
	}
	logger.From(ctx).Info("account switch", "acting_account_id", actor.ID, "target_account_id", target.ID)
	return tok, nil
}

// SwitchBack ends an impersonation. The returned Direct token is built from
// the acting account alone; nothing of the impersonated account survives.
func (m *Manager) SwitchBack(ctx context.Context, current auth.Session) (auth.Token, error) {
	if !current.Impersonating {
		return auth.Token{}, apperr.New(apperr.KindNotImpersonating, "session is not impersonating")
	}

	actor, err := m.dir.Get(ctx, current.ActingAccountID)
	if err != nil {
		return auth.Token{}, err
	}
	tok, err := m.tokens.IssueDirect(m.clock(), actor)
	if err != nil {
		return auth.Token{}, fmt.Errorf("session: issue token: %w", err)
	}

	if m.audit != nil {
		if err := m.audit.LogImpersonation(ctx, false, actor.ID, current.EffectiveAccountID); err != nil {
			logger.From(ctx).Warn("audit append failed", "event", audit.EventTypeImpersonationEnd, "err", err)
		}
	}
	return tok, nil
}

// authorizeSwitch is the permission table for switching.
func (m *Manager) authorizeSwitch(ctx context.Context, actor, target accounts.Account) error {
	var allowed bool
	switch actor.Role {
	case accounts.RoleOwner:
		ok, err := m.dir.IsStrictDescendant(ctx, actor.ID, target.ID)
		if err != nil {
			return err
		}
		allowed = ok && (target.Role == accounts.RoleAgency || target.Role == accounts.RoleClient)
	case accounts.RoleAgency:
		if target.Role == accounts.RoleClient {
			ok, err := m.dir.IsDirectChild(ctx, actor.ID, target.ID)
			if err != nil {
				return err
			}
			allowed = ok
		}
	case accounts.RoleClient:
		allowed = false
	default:
		return fmt.Errorf("session: unhandled role %q", actor.Role)
	}

	if !allowed {
		return apperr.New(apperr.KindForbidden, "%s account %s may not switch into %s", actor.Role, actor.ID, target.ID)
	}
	if target.Disabled {
		return apperr.New(apperr.KindForbidden, "account %s is disabled", target.ID)
	}
	return nil
}
