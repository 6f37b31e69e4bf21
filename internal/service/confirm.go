package service

import (
	"errors"
	"time"

	"idle_mining/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Action names an administrative action that needs confirmation
type Action string

const (
	ActionReconcile Action = "reconcile"
	ActionDiscard   Action = "discard"
	ActionReset     Action = "reset"
)

const DefaultConfirmTTL = 5 * time.Minute

// Confirmer issues and checks short-lived HS256 tokens that bind one
// action to one address. With an empty secret every check fails.
type Confirmer struct {
	secret []byte
	now    func() time.Time
}

func NewConfirmer(secret string) *Confirmer {
	return &Confirmer{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a signing secret is configured
func (c *Confirmer) Enabled() bool {
	return c != nil && len(c.secret) > 0
}

// Issue mints a confirmation token for action on address
func (c *Confirmer) Issue(action Action, address string, ttl time.Duration) (string, error) {
	if !c.Enabled() {
		return "", domain.ErrAdminDisabled
	}
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	now := c.now()
	claims := jwt.MapClaims{
		"action":  string(action),
		"address": address,
		"exp":     now.Add(ttl).Unix(),
		"iat":     now.Unix(),
		"nbf":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify checks that token confirms action on address
func (c *Confirmer) Verify(token string, action Action, address string) error {
	if !c.Enabled() {
		return domain.ErrAdminDisabled
	}
	if token == "" {
		return domain.ErrConfirmationRequired
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return domain.ErrConfirmationRequired.WithDetail("invalid token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.ErrConfirmationRequired.WithDetail("invalid claims")
	}
	if a, _ := claims["action"].(string); a != string(action) {
		return domain.ErrConfirmationRequired.WithDetail("token is for %q", a)
	}
	if a, _ := claims["address"].(string); a != address {
		return domain.ErrConfirmationRequired.WithDetail("token is for another address")
	}
	return nil
}
