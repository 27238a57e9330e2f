package guard

import (
	"context"
	"database/sql"
	"sync"

	"github.com/uptrace/bun"
)

// Engine bundles the wired components of the guard subsystem.
type Engine struct {
	registry  *RuleRegistry
	codec     TokenCodec
	gateway   *BunGateway
	tracker   *TokenTracker
	blacklist *Blacklist
	factory   *TokenFactory
	gate      *AuthenticationGate
	repos     RepositoryManager
	logger    Logger
}

// SetupOption configures Setup.
type SetupOption func(*setupConfig)

type setupConfig struct {
	logger Logger
	codec  TokenCodec
	store  BlacklistStore
	tables map[string]func() any
}

// WithSetupLogger injects the logger shared by every component.
func WithSetupLogger(logger Logger) SetupOption {
	return func(c *setupConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec replaces the default HMAC JWT codec.
func WithCodec(codec TokenCodec) SetupOption {
	return func(c *setupConfig) {
		if codec != nil {
			c.codec = codec
		}
	}
}

// WithBlacklistStore replaces the table-backed blacklist store, e.g. with
// the Redis-backed one.
func WithBlacklistStore(store BlacklistStore) SetupOption {
	return func(c *setupConfig) {
		if store != nil {
			c.store = store
		}
	}
}

// WithTable registers an extra logical table on the gateway before rule
// table refs are validated.
func WithTable(ref string, factory func() any) SetupOption {
	return func(c *setupConfig) {
		if ref != "" && factory != nil {
			c.tables[ref] = factory
		}
	}
}

// Setup wires a full engine: registry, gateway, codec, tracker, blacklist,
// factory, and gate. Every table ref named by an enabled rule feature is
// resolved here, so misconfigured rules fail at startup rather than on the
// first request.
func Setup(db *bun.DB, rules map[string]map[string]any, defaultRule string, opts ...SetupOption) (*Engine, error) {
	cfg := &setupConfig{
		logger: defLogger{},
		tables: map[string]func() any{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	registry, err := NewRuleRegistry(rules, defaultRule, WithRegistryLogger(cfg.logger))
	if err != nil {
		return nil, err
	}

	gateway := NewBunGateway(db, cfg.logger)
	for ref, factory := range cfg.tables {
		gateway.RegisterTable(ref, factory)
	}
	if err := gateway.ValidateTables(registry); err != nil {
		return nil, err
	}

	codec := cfg.codec
	if codec == nil {
		codec = NewJWTCodec(cfg.logger)
	}

	tracker := NewTokenTracker(registry, gateway, cfg.logger)

	store := cfg.store
	if store == nil {
		store = NewTableBlacklistStore(registry, gateway)
	}
	blacklist := NewBlacklist(registry, store, tracker, cfg.logger)

	factory := NewTokenFactory(registry, codec, tracker, gateway, cfg.logger)
	gate := NewAuthenticationGate(registry, factory, blacklist, gateway, cfg.logger)

	return &Engine{
		registry:  registry,
		codec:     codec,
		gateway:   gateway,
		tracker:   tracker,
		blacklist: blacklist,
		factory:   factory,
		gate:      gate,
		repos:     NewRepositoryManager(db),
		logger:    cfg.logger,
	}, nil
}

// Registry returns the rule registry.
func (e *Engine) Registry() *RuleRegistry {
	return e.registry
}

// Gateway returns the persistence gateway.
func (e *Engine) Gateway() *BunGateway {
	return e.gateway
}

// Gate returns the authentication gate.
func (e *Engine) Gate() *AuthenticationGate {
	return e.gate
}

// Factory returns the token factory.
func (e *Engine) Factory() *TokenFactory {
	return e.factory
}

// Repos returns the typed repositories over the default token tables.
func (e *Engine) Repos() RepositoryManager {
	return e.repos
}

// IssueAccessToken issues an access token under the selected rule.
func (e *Engine) IssueAccessToken(ctx context.Context, opts IssueOptions) (string, error) {
	return e.factory.IssueAccessToken(ctx, opts)
}

// IssueRefreshToken issues a refresh token under the selected rule.
func (e *Engine) IssueRefreshToken(ctx context.Context, opts IssueOptions) (string, error) {
	return e.factory.IssueRefreshToken(ctx, opts)
}

// Validate decodes a token with the rule's secret and algorithm.
func (e *Engine) Validate(token, ruleName string) (DecodeResult, error) {
	return e.factory.Validate(token, ruleName)
}

// BlacklistToken revokes a token ahead of its expiry.
func (e *Engine) BlacklistToken(ctx context.Context, ruleName, token string, extra map[string]any, alsoUnregister bool) error {
	return e.blacklist.Add(ctx, ruleName, token, extra, alsoUnregister)
}

// IsTokenBlacklisted reports revocation status under the rule's policy.
func (e *Engine) IsTokenBlacklisted(ctx context.Context, ruleName, token string) (bool, error) {
	return e.blacklist.IsBlacklisted(ctx, ruleName, token)
}

// Authenticate runs the gate pipeline against a raw token.
func (e *Engine) Authenticate(ctx context.Context, token string, cfg GateConfig) (Decision, error) {
	return e.gate.Authenticate(ctx, token, cfg)
}

// RevokeEntityTokens blacklists and unregisters every tracked token owned by
// the entity under the given rule. The rule must track issuance into the
// default tracked tokens table.
func (e *Engine) RevokeEntityTokens(ctx context.Context, ruleName string, entityID any) (int, error) {
	rule, err := e.registry.Get(ruleName)
	if err != nil {
		return 0, err
	}
	if !rule.TrackIssuance {
		return 0, NewInvalidArgumentError("rule does not track issuance", map[string]any{
			"rule": rule.Name,
		})
	}

	var tracked []*TrackedToken
	err = e.gateway.DB().NewSelect().
		Model(&tracked).
		Where("? = ?", bun.Ident("entity_id"), entityIDString(entityID)).
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return 0, NewPersistenceError(err, "revoke.select")
	}

	revoked := 0
	for _, rec := range tracked {
		if err := e.blacklist.Add(ctx, rule.Name, rec.Token, nil, true); err != nil {
			return revoked, err
		}
		revoked++
	}

	e.logger.Info("revoked %d tokens for entity %v under rule %q", revoked, entityID, rule.Name)

	return revoked, nil
}

var (
	defaultEngine *Engine
	setupOnce     sync.Once
)

// Initialize wires the package-level engine exactly once. Later calls return
// the engine from the first call regardless of arguments.
func Initialize(db *bun.DB, rules map[string]map[string]any, defaultRule string, opts ...SetupOption) (*Engine, error) {
	var err error
	setupOnce.Do(func() {
		defaultEngine, err = Setup(db, rules, defaultRule, opts...)
	})
	if defaultEngine == nil && err == nil {
		err = ErrNotInitialized
	}
	return defaultEngine, err
}

// Default returns the engine wired by Initialize, or an error before it ran.
func Default() (*Engine, error) {
	if defaultEngine == nil {
		return nil, ErrNotInitialized
	}
	return defaultEngine, nil
}
