package guard

import (
	"context"
)

// GateConfig parameterizes one authentication check.
type GateConfig struct {
	// RuleName selects the policy; empty resolves to the default rule.
	RuleName string
	// TokenType the gate expects; defaults to access.
	TokenType string
	// BindEntity resolves the owning entity row and attaches it to the decision.
	BindEntity bool
	// IDField names the entity primary key column. Defaults to "id".
	IDField string
	// Decode overrides the rule-secret decode, e.g. for JWKS-verified rules.
	Decode func(token string) DecodeResult
}

// Decision is the terminal state of an authentication check. Denials carry
// no reason: callers must not leak which check failed.
type Decision struct {
	Allowed bool
	Claims  Claims
	// Entity is the resolved owning row when BindEntity was requested and
	// the lookup found one. A missing entity does not deny by itself.
	Entity any
}

// AuthenticationGate runs the request-time pipeline:
// blacklist check, decode, type check, optional entity resolution.
type AuthenticationGate struct {
	registry  *RuleRegistry
	factory   *TokenFactory
	blacklist *Blacklist
	gateway   PersistenceGateway
	logger    Logger
}

// NewAuthenticationGate wires a gate from the engine components.
func NewAuthenticationGate(registry *RuleRegistry, factory *TokenFactory, blacklist *Blacklist, gateway PersistenceGateway, logger Logger) *AuthenticationGate {
	if logger == nil {
		logger = defLogger{}
	}
	return &AuthenticationGate{
		registry:  registry,
		factory:   factory,
		blacklist: blacklist,
		gateway:   gateway,
		logger:    logger,
	}
}

// Authenticate evaluates a raw token. Expected failures (blacklisted,
// invalid, wrong type) produce a deny decision with a nil error; only
// misconfiguration and storage failures return errors.
//
// The blacklist runs before decode: membership is cheaper than signature
// verification and authoritative regardless of token validity.
func (g *AuthenticationGate) Authenticate(ctx context.Context, token string, cfg GateConfig) (Decision, error) {
	deny := Decision{}

	if token == "" {
		return deny, nil
	}

	blacklisted, err := g.blacklist.IsBlacklisted(ctx, cfg.RuleName, token)
	if err != nil {
		return deny, err
	}
	if blacklisted {
		g.logger.Debug("denied blacklisted token under rule %q", cfg.RuleName)
		return deny, nil
	}

	var result DecodeResult
	if cfg.Decode != nil {
		result = cfg.Decode(token)
	} else {
		result, err = g.factory.Validate(token, cfg.RuleName)
		if err != nil {
			return deny, err
		}
	}
	if !result.Valid() {
		g.logger.Debug("denied token under rule %q: %s", cfg.RuleName, result.Status)
		return deny, nil
	}

	expected := cfg.TokenType
	if expected == "" {
		expected = TokenTypeAccess
	}
	if result.Claims.Type() != expected {
		g.logger.Debug("denied %q token where %q was expected", result.Claims.Type(), expected)
		return deny, nil
	}

	decision := Decision{Allowed: true, Claims: result.Claims}

	if cfg.BindEntity {
		entity, err := g.resolveEntity(ctx, cfg, result.Claims)
		if err != nil {
			return deny, err
		}
		decision.Entity = entity
	}

	return decision, nil
}

// resolveEntity fetches the owning row named by the entity claim. A missing
// claim or row resolves to nil; requiring the entity is the caller's policy.
func (g *AuthenticationGate) resolveEntity(ctx context.Context, cfg GateConfig, claims Claims) (any, error) {
	rule, err := g.registry.Get(cfg.RuleName)
	if err != nil {
		return nil, err
	}
	if rule.EntityTable == "" {
		return nil, nil
	}

	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}

	raw, ok := claims.EntityID(rule.EntityTable, idField)
	if !ok {
		return nil, nil
	}

	handle, err := g.gateway.ResolveTable(rule.EntityTable)
	if err != nil {
		return nil, err
	}

	return g.gateway.Find(ctx, handle, map[string]any{idField: raw})
}
