package guard

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Reserved claim keys managed by the engine.
const (
	ClaimType     = "type"
	ClaimExpires  = "exp"
	ClaimTokenID  = "jti"
	ClaimRuleName = "rule_name"
)

// Claims is the decoded payload of a token. Beyond the reserved keys it
// carries dynamic entries: the entity binding ("<table>_id") and any flat
// caller-supplied payload.
type Claims map[string]any

// Type returns the token type claim ("access" or "refresh").
func (c Claims) Type() string {
	s, _ := c[ClaimType].(string)
	return s
}

// RuleName returns the embedded rule name, when issuance included it.
func (c Claims) RuleName() string {
	s, _ := c[ClaimRuleName].(string)
	return s
}

// TokenID returns the unique token id assigned at issuance.
func (c Claims) TokenID() string {
	s, _ := c[ClaimTokenID].(string)
	return s
}

// ExpiresAt returns the expiry embedded in the claims. JSON round-trips turn
// numeric dates into float64; fresh claims still hold *jwt.NumericDate.
func (c Claims) ExpiresAt() (time.Time, bool) {
	switch exp := c[ClaimExpires].(type) {
	case *jwt.NumericDate:
		return exp.Time, true
	case float64:
		return time.Unix(int64(exp), 0), true
	case int64:
		return time.Unix(exp, 0), true
	}
	return time.Time{}, false
}

// Get returns an arbitrary claim value.
func (c Claims) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// EntityID returns the entity binding embedded for the given table and id
// field ("<table>_<idField>").
func (c Claims) EntityID(table, idField string) (any, bool) {
	v, ok := c[EntityClaimKey(table, idField)]
	return v, ok
}

// Clone returns a shallow copy of the claims.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// EntityClaimKey derives the claim key an entity id is stored under.
func EntityClaimKey(table, idField string) string {
	if idField == "" {
		idField = "id"
	}
	return fmt.Sprintf("%s_%s", table, idField)
}
