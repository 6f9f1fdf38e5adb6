package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tokens, err := NewTokens("test-secret", "pickup")
	require.NoError(t, err)
	return tokens
}

func TestTokens_RoundTrip(t *testing.T) {
	tokens := newTestTokens(t)

	s, err := tokens.Issue(Principal{UserID: "u1", Role: RoleStaff, RestaurantID: "r1"}, time.Hour)
	require.NoError(t, err)

	p, err := tokens.Verify(s)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.CurrentUserID())
	assert.True(t, p.HasRole(RoleStaff))
	assert.True(t, p.IsStaffOf("r1"))
	assert.False(t, p.IsStaffOf("r2"))
	assert.False(t, p.IsAdmin())
}

func TestTokens_Expired(t *testing.T) {
	tokens := newTestTokens(t)
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issued }

	s, err := tokens.Issue(Principal{UserID: "u1", Role: RoleCustomer}, time.Minute)
	require.NoError(t, err)

	tokens.now = func() time.Time { return issued.Add(time.Hour) }
	_, err = tokens.Verify(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_WrongSecret(t *testing.T) {
	s, err := newTestTokens(t).Issue(Principal{UserID: "u1", Role: RoleCustomer}, time.Hour)
	require.NoError(t, err)

	other, err := NewTokens("another-secret", "pickup")
	require.NoError(t, err)
	_, err = other.Verify(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	c := jwt.MapClaims{"sub": "u1", "role": "admin", "iss": "pickup", "exp": time.Now().Add(time.Hour).Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS512, c).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestTokens(t).Verify(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_StaffWithoutRestaurant(t *testing.T) {
	c := jwt.MapClaims{"sub": "u1", "role": "staff", "iss": "pickup", "exp": time.Now().Add(time.Hour).Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = newTestTokens(t).Verify(s)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_IssueRejectsUnknownRole(t *testing.T) {
	_, err := newTestTokens(t).Issue(Principal{UserID: "u1", Role: "root"}, time.Hour)
	require.Error(t, err)

	_, err = NewTokens("", "pickup")
	require.Error(t, err)
}

func TestPrincipal_NilSafe(t *testing.T) {
	var p *Principal
	assert.Equal(t, "", p.CurrentUserID())
	assert.False(t, p.HasRole(RoleAdmin))
	assert.False(t, p.IsStaffOf("r1"))
}
