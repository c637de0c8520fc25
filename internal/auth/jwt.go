package auth

import (
	"errors"
	"fmt"
	"time"

	"agency-billing/internal/accounts"
	"agency-billing/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid session token")

type Manager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}

	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl:      ttl,
	}, nil
}

/* ===================== ISSUE TOKENS ===================== */

// IssueDirect issues a token where acting and effective identity are the same
// account. Login itself is external; this is used after login, by switch-back
// and by operator tooling.
func (m *Manager) IssueDirect(now time.Time, acc accounts.Account) (Token, error) {
	if acc.ID == "" {
		return Token{}, errors.New("account id required")
	}
	return m.issue(now, Claims{
		ActingAccountID:    acc.ID,
		ActingRole:         acc.Role,
		EffectiveAccountID: acc.ID,
		EffectiveRole:      acc.Role,
	})
}

// IssueImpersonation issues a token acting as actor while operating on target.
// Authorization is the caller's job (internal/session).
func (m *Manager) IssueImpersonation(now time.Time, actor Session, target accounts.Account) (Token, error) {
	if actor.ActingAccountID == "" || target.ID == "" {
		return Token{}, errors.New("acting and target account ids required")
	}
	return m.issue(now, Claims{
		ActingAccountID:    actor.ActingAccountID,
		ActingRole:         actor.ActingRole,
		EffectiveAccountID: target.ID,
		EffectiveRole:      target.Role,
		Impersonating:      true,
	})
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (Session, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30 * time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := claims.check(); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.session(), nil
}

// check enforces the session shape on top of the registered claims.
func (c Claims) check() error {
	if c.ActingAccountID == "" || c.EffectiveAccountID == "" {
		return errors.New("account ids missing")
	}
	if c.Subject != c.ActingAccountID {
		return errors.New("subject does not match acting account")
	}
	if _, err := accounts.ParseRole(string(c.ActingRole)); err != nil {
		return err
	}
	if _, err := accounts.ParseRole(string(c.EffectiveRole)); err != nil {
		return err
	}
	if !c.Impersonating && (c.EffectiveAccountID != c.ActingAccountID || c.EffectiveRole != c.ActingRole) {
		return errors.New("direct session with divergent identities")
	}
	if c.Impersonating && c.EffectiveAccountID == c.ActingAccountID {
		return errors.New("impersonating session targets itself")
	}
	return nil
}

/* ===================== INTERNAL ISSUE ===================== */

func (m *Manager) issue(now time.Time, claims Claims) (Token, error) {
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(m.ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   claims.ActingAccountID,
		Audience:  audienceOrNil(m.audience),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.secret)
	if err != nil {
		return Token{}, err
	}
	return Token{Token: signed, ExpiresAt: exp, Session: claims.session()}, nil
}

func audienceOrNil(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
