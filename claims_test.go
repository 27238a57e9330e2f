package guard_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	guard "github.com/goliatone/go-jwt-guard"
)

func TestClaimsGetters(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	claims := guard.Claims{
		guard.ClaimType:     guard.TokenTypeAccess,
		guard.ClaimExpires:  jwt.NewNumericDate(exp),
		guard.ClaimTokenID:  "tok-1",
		guard.ClaimRuleName: "DEFAULT",
		"users_id":          "u-42",
		"scope":             "read",
	}

	assert.Equal(t, guard.TokenTypeAccess, claims.Type())
	assert.Equal(t, "DEFAULT", claims.RuleName())
	assert.Equal(t, "tok-1", claims.TokenID())

	got, ok := claims.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, exp.Unix(), got.Unix())

	id, ok := claims.EntityID("users", "id")
	assert.True(t, ok)
	assert.Equal(t, "u-42", id)

	scope, ok := claims.Get("scope")
	assert.True(t, ok)
	assert.Equal(t, "read", scope)
}

func TestClaimsExpiresAtNumericForms(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	// decoded claims carry exp as float64 after the JSON round trip
	got, ok := guard.Claims{guard.ClaimExpires: float64(exp)}.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, exp, got.Unix())

	got, ok = guard.Claims{guard.ClaimExpires: exp}.ExpiresAt()
	assert.True(t, ok)
	assert.Equal(t, exp, got.Unix())

	_, ok = guard.Claims{}.ExpiresAt()
	assert.False(t, ok)
}

func TestEntityClaimKey(t *testing.T) {
	assert.Equal(t, "users_id", guard.EntityClaimKey("users", ""))
	assert.Equal(t, "accounts_uuid", guard.EntityClaimKey("accounts", "uuid"))
}

func TestClaimsClone(t *testing.T) {
	original := guard.Claims{"a": 1}
	copied := original.Clone()
	copied["a"] = 2
	copied["b"] = 3

	assert.Equal(t, 1, original["a"])
	_, ok := original.Get("b")
	assert.False(t, ok)
}
