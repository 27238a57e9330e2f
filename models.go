package guard

import (
	"time"

	"github.com/uptrace/bun"
)

// Logical table references for the default models.
const (
	TableTrackedTokens     = "tracked_tokens"
	TableBlacklistedTokens = "blacklisted_tokens"
)

// TrackedRecord is implemented by models persisted in a rule's track table.
// Custom track models registered with the gateway must implement it.
type TrackedRecord interface {
	SetTracking(token, entityID, tokenType string, extra map[string]any)
	TrackedToken() string
}

// BlacklistRecord is implemented by models persisted in a rule's blacklist table.
type BlacklistRecord interface {
	SetBlacklisting(token string, extra map[string]any)
	BlacklistedToken() string
}

// TrackedToken records that a token was issued for an entity. The token is
// the primary key; the entity index backs duplicate checks and
// revocation-by-entity. Hosts wanting a hard single-token-per-entity
// guarantee should make that index unique (see data/sql/migrations).
type TrackedToken struct {
	bun.BaseModel `bun:"table:tracked_tokens,alias:trk"`
	Token         string         `bun:"token,pk" json:"token"`
	EntityID      string         `bun:"entity_id,notnull" json:"entity_id"`
	TokenType     string         `bun:"token_type,notnull" json:"token_type"`
	Extra         map[string]any `bun:"extra" json:"extra,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

var _ TrackedRecord = (*TrackedToken)(nil)

func (t *TrackedToken) SetTracking(token, entityID, tokenType string, extra map[string]any) {
	t.Token = token
	t.EntityID = entityID
	t.TokenType = tokenType
	t.Extra = extra
}

func (t *TrackedToken) TrackedToken() string {
	return t.Token
}

// BlacklistedToken marks a token invalid ahead of its natural expiry.
// Existence alone signals invalidity; rows are never updated.
type BlacklistedToken struct {
	bun.BaseModel `bun:"table:blacklisted_tokens,alias:blk"`
	Token         string         `bun:"token,pk" json:"token"`
	Extra         map[string]any `bun:"extra" json:"extra,omitempty"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at,omitempty"`
}

var _ BlacklistRecord = (*BlacklistedToken)(nil)

func (b *BlacklistedToken) SetBlacklisting(token string, extra map[string]any) {
	b.Token = token
	b.Extra = extra
}

func (b *BlacklistedToken) BlacklistedToken() string {
	return b.Token
}
