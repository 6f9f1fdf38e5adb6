package auth

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Role         string `json:"role"`
	RestaurantID string `json:"restaurant_id,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokens creates a token codec. The secret must not be empty.
func NewTokens(secret, issuer string) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Tokens{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for p valid for ttl.
func (t *Tokens) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.UserID == "" || !p.Role.Valid() {
		return "", errors.Errorf("cannot issue token for user %q role %q", p.UserID, p.Role)
	}
	now := t.now()
	c := claims{
		Role:         string(p.Role),
		RestaurantID: p.RestaurantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Verify parses and validates a token and returns its principal.
func (t *Tokens) Verify(token string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var c claims
	tok, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}

	p := &Principal{UserID: c.Subject, Role: Role(c.Role), RestaurantID: c.RestaurantID}
	if p.UserID == "" || !p.Role.Valid() {
		return nil, errors.Wrap(ErrInvalidToken, "missing subject or role")
	}
	if p.Role == RoleStaff && p.RestaurantID == "" {
		return nil, errors.Wrap(ErrInvalidToken, "staff token without restaurant")
	}
	return p, nil
}
