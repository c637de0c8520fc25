package auth

import (
	"context"

	"agency-billing/internal/apperr"
)

type ctxKey int

const (
	ctxSession ctxKey = iota
)

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxSession, s)
}

// SessionFrom returns the verified session, or InsufficientContext when the
// request never went through RequireSession.
func SessionFrom(ctx context.Context) (Session, error) {
	if s, ok := ctx.Value(ctxSession).(Session); ok && s.ActingAccountID != "" && s.EffectiveAccountID != "" {
		return s, nil
	}
	return Session{}, apperr.New(apperr.KindInsufficientContext, "no session in context")
}

// ActingAccountID is the real identity behind the request.
func ActingAccountID(ctx context.Context) (string, error) {
	s, err := SessionFrom(ctx)
	if err != nil {
		return "", err
	}
	return s.ActingAccountID, nil
}

// EffectiveAccountID is the account whose data the request operates on.
func EffectiveAccountID(ctx context.Context) (string, error) {
	s, err := SessionFrom(ctx)
	if err != nil {
		return "", err
	}
	return s.EffectiveAccountID, nil
}
