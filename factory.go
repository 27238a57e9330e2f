package guard

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueOptions parameterizes a single token issuance.
type IssueOptions struct {
	// RuleName selects the policy; empty resolves to the default rule.
	RuleName string
	// EntityID is required when the rule binds tokens to an entity.
	EntityID any
	// ExtraPayload merges flat caller claims into the token.
	ExtraPayload map[string]any
	// IncludeRuleName embeds the resolved rule name in the claims.
	IncludeRuleName bool
	// VerifyEntityExists checks the entity row before issuing. Off by
	// default: the lookup costs a round trip per token and callers usually
	// hold a live entity already.
	VerifyEntityExists bool
	// IDField names the entity primary key column. Defaults to "id".
	IDField string
	// TrackFields adds extra columns to the tracked-token row.
	TrackFields map[string]any
}

// TokenFactory orchestrates rule resolution, claim building, encoding, and
// issuance tracking for access and refresh tokens.
type TokenFactory struct {
	registry *RuleRegistry
	codec    TokenCodec
	tracker  *TokenTracker
	gateway  PersistenceGateway
	logger   Logger
	now      func() time.Time
}

// FactoryOption configures a TokenFactory.
type FactoryOption func(*TokenFactory)

// WithClock overrides the issuance time source.
func WithClock(now func() time.Time) FactoryOption {
	return func(f *TokenFactory) {
		if now != nil {
			f.now = now
		}
	}
}

// NewTokenFactory wires a factory. tracker and gateway may be nil only when
// no registered rule tracks issuance or binds entities.
func NewTokenFactory(registry *RuleRegistry, codec TokenCodec, tracker *TokenTracker, gateway PersistenceGateway, logger Logger, opts ...FactoryOption) *TokenFactory {
	if logger == nil {
		logger = defLogger{}
	}
	f := &TokenFactory{
		registry: registry,
		codec:    codec,
		tracker:  tracker,
		gateway:  gateway,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IssueAccessToken issues an access token under the selected rule.
func (f *TokenFactory) IssueAccessToken(ctx context.Context, opts IssueOptions) (string, error) {
	return f.issue(ctx, TokenTypeAccess, opts)
}

// IssueRefreshToken issues a refresh token under the selected rule.
func (f *TokenFactory) IssueRefreshToken(ctx context.Context, opts IssueOptions) (string, error) {
	return f.issue(ctx, TokenTypeRefresh, opts)
}

func (f *TokenFactory) issue(ctx context.Context, tokenType string, opts IssueOptions) (string, error) {
	rule, err := f.registry.Get(opts.RuleName)
	if err != nil {
		return "", err
	}

	claims, err := f.buildClaims(ctx, rule, tokenType, opts)
	if err != nil {
		return "", err
	}

	token, err := f.codec.Encode(claims, rule.SecretKey, rule.Algorithm)
	if err != nil {
		return "", err
	}

	if rule.TrackIssuance {
		if err := f.tracker.Record(ctx, rule.Name, token, opts.EntityID, tokenType, opts.TrackFields); err != nil {
			// the encoded token is discarded: a failed tracking step means
			// the token was never issued
			return "", err
		}
	}

	return token, nil
}

func (f *TokenFactory) buildClaims(ctx context.Context, rule *Rule, tokenType string, opts IssueOptions) (Claims, error) {
	ttl, err := f.registry.TokenLifetime(rule.Name, tokenType)
	if err != nil {
		return nil, err
	}

	claims := Claims{
		ClaimType:    tokenType,
		ClaimExpires: jwt.NewNumericDate(f.now().Add(ttl)),
		ClaimTokenID: uuid.NewString(),
	}

	if rule.BindToEntity {
		if opts.EntityID == nil {
			return nil, NewInvalidArgumentError("entity id is required by this rule", map[string]any{
				"rule": rule.Name,
			})
		}
		if opts.VerifyEntityExists {
			if err := f.verifyEntityExists(ctx, rule, opts); err != nil {
				return nil, err
			}
		}
		claims[EntityClaimKey(rule.EntityTable, opts.IDField)] = opts.EntityID
	}

	if opts.IncludeRuleName {
		claims[ClaimRuleName] = rule.Name
	}

	for key, value := range opts.ExtraPayload {
		if value != nil && reflect.ValueOf(value).Kind() == reflect.Map {
			return nil, NewInvalidArgumentError("extra payload must be a flat mapping", map[string]any{
				"key": key,
			})
		}
		claims[key] = value
	}

	return claims, nil
}

func (f *TokenFactory) verifyEntityExists(ctx context.Context, rule *Rule, opts IssueOptions) error {
	handle, err := f.gateway.ResolveTable(rule.EntityTable)
	if err != nil {
		return err
	}

	idField := opts.IDField
	if idField == "" {
		idField = "id"
	}

	found, err := f.gateway.Find(ctx, handle, map[string]any{idField: opts.EntityID})
	if err != nil {
		return err
	}
	if found == nil {
		return NewInvalidArgumentError(
			fmt.Sprintf("entity %v does not exist in %q", opts.EntityID, rule.EntityTable),
			map[string]any{"rule": rule.Name, "entity_id": fmt.Sprint(opts.EntityID)},
		)
	}
	return nil
}

// Validate decodes and verifies a token with the rule's secret and
// algorithm. It answers only "well formed, correctly signed, unexpired";
// blacklist membership and type checks belong to the authentication gate.
func (f *TokenFactory) Validate(token, ruleName string) (DecodeResult, error) {
	secret, err := f.registry.SecretKey(ruleName)
	if err != nil {
		return DecodeResult{}, err
	}
	algorithm, err := f.registry.Algorithm(ruleName)
	if err != nil {
		return DecodeResult{}, err
	}
	return f.codec.Decode(token, secret, algorithm), nil
}
