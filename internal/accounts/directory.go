package accounts

import (
	"context"
	"errors"
	"fmt"

	"agency-billing/internal/apperr"
)

// maxChainLength bounds ancestry walks. The tree is at most three levels
// deep; anything longer is corrupt data, most likely a parent cycle.
const maxChainLength = 8

var ErrBrokenHierarchy = errors.New("accounts: hierarchy does not terminate at an owner")

// Repository is the read contract for account storage.
// GetAccount must return an apperr.NotFound error for unknown ids.
type Repository interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	ListChildren(ctx context.Context, parentID string) ([]Account, error)
	ListByRoles(ctx context.Context, roles ...Role) ([]Account, error)
}

// Directory is a read-only view of the tenant tree.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

func (d *Directory) Get(ctx context.Context, id string) (Account, error) {
	if id == "" {
		return Account{}, apperr.New(apperr.KindInvalidArgument, "account id required")
	}
	return d.repo.GetAccount(ctx, id)
}

// ResolveAncestryChain returns [account, parent, grandparent, ...] ending
// at the owner root.
func (d *Directory) ResolveAncestryChain(ctx context.Context, id string) ([]Account, error) {
	acc, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []Account{acc}
	for acc.ParentAccountID != nil {
		if len(chain) >= maxChainLength {
			return nil, fmt.Errorf("%w: chain of %s exceeds %d", ErrBrokenHierarchy, id, maxChainLength)
		}
		parent, err := d.repo.GetAccount(ctx, *acc.ParentAccountID)
		if err != nil {
			if errors.Is(err, apperr.NotFound) {
				return nil, fmt.Errorf("%w: parent %s of %s missing", ErrBrokenHierarchy, *acc.ParentAccountID, acc.ID)
			}
			return nil, err
		}
		chain = append(chain, parent)
		acc = parent
	}

	if acc.Role != RoleOwner {
		return nil, fmt.Errorf("%w: root %s has role %s", ErrBrokenHierarchy, acc.ID, acc.Role)
	}
	return chain, nil
}

// IsStrictDescendant reports whether id sits strictly below ancestorID.
func (d *Directory) IsStrictDescendant(ctx context.Context, ancestorID, id string) (bool, error) {
	if ancestorID == id {
		return false, nil
	}
	chain, err := d.ResolveAncestryChain(ctx, id)
	if err != nil {
		return false, err
	}
	for _, a := range chain[1:] {
		if a.ID == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

// IsDirectChild reports whether child's parent is parentID.
func (d *Directory) IsDirectChild(ctx context.Context, parentID, childID string) (bool, error) {
	child, err := d.Get(ctx, childID)
	if err != nil {
		return false, err
	}
	return child.ParentAccountID != nil && *child.ParentAccountID == parentID, nil
}

// ListAccessible lists the accounts viewer may switch into.
func (d *Directory) ListAccessible(ctx context.Context, viewerID string) ([]Account, error) {
	viewer, err := d.Get(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	switch viewer.Role {
	case RoleOwner:
		all, err := d.repo.ListByRoles(ctx, RoleAgency, RoleClient)
		if err != nil {
			return nil, err
		}
		out := make([]Account, 0, len(all))
		for _, a := range all {
			if a.ID != viewer.ID {
				out = append(out, a)
			}
		}
		return out, nil
	case RoleAgency:
		children, err := d.repo.ListChildren(ctx, viewer.ID)
		if err != nil {
			return nil, err
		}
		out := make([]Account, 0, len(children))
		for _, a := range children {
			if a.Role == RoleClient {
				out = append(out, a)
			}
		}
		return out, nil
	case RoleClient:
		return nil, apperr.New(apperr.KindForbidden, "clients cannot access other accounts")
	default:
		return nil, fmt.Errorf("accounts: unhandled role %q", viewer.Role)
	}
}

// ListSubtree returns rootID followed by the ids of every descendant.
func (d *Directory) ListSubtree(ctx context.Context, rootID string) ([]string, error) {
	if _, err := d.Get(ctx, rootID); err != nil {
		return nil, err
	}

	out := []string{rootID}
	queue := []string{rootID}
	for depth := 0; len(queue) > 0; depth++ {
		if depth >= maxChainLength {
			return nil, fmt.Errorf("%w: subtree of %s too deep", ErrBrokenHierarchy, rootID)
		}
		var next []string
		for _, id := range queue {
			children, err := d.repo.ListChildren(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				out = append(out, c.ID)
				next = append(next, c.ID)
			}
		}
		queue = next
	}
	return out, nil
}
