package guard

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// BlacklistStore persists and queries revoked tokens. The default store is
// table backed; a Redis store is available for deployments that prefer a
// TTL-expiring deny list.
type BlacklistStore interface {
	Add(ctx context.Context, rule *Rule, token string, extra map[string]any) error
	Contains(ctx context.Context, rule *Rule, token string) (bool, error)
}

// TableBlacklistStore stores revoked tokens in the table referenced by each
// rule's blacklist_table.
type TableBlacklistStore struct {
	registry *RuleRegistry
	gateway  PersistenceGateway
}

var _ BlacklistStore = (*TableBlacklistStore)(nil)

// NewTableBlacklistStore builds the default gateway-backed store.
func NewTableBlacklistStore(registry *RuleRegistry, gateway PersistenceGateway) *TableBlacklistStore {
	return &TableBlacklistStore{registry: registry, gateway: gateway}
}

// Add inserts a blacklist row. The token is the primary key, so revoking the
// same token twice surfaces as a persistence error.
func (s *TableBlacklistStore) Add(ctx context.Context, rule *Rule, token string, extra map[string]any) error {
	ref, err := s.registry.BlacklistTable(rule.Name)
	if err != nil {
		return err
	}
	handle, err := s.gateway.ResolveTable(ref)
	if err != nil {
		return err
	}

	record, ok := handle.NewRecord().(BlacklistRecord)
	if !ok {
		return goerrors.New(
			fmt.Sprintf("blacklist table %q model does not implement BlacklistRecord", ref),
			goerrors.CategoryValidation,
		).WithTextCode(TextCodeConfiguration)
	}
	record.SetBlacklisting(token, extra)

	return s.gateway.Create(ctx, record)
}

// Contains checks membership by token.
func (s *TableBlacklistStore) Contains(ctx context.Context, rule *Rule, token string) (bool, error) {
	ref, err := s.registry.BlacklistTable(rule.Name)
	if err != nil {
		return false, err
	}
	handle, err := s.gateway.ResolveTable(ref)
	if err != nil {
		return false, err
	}

	existing, err := s.gateway.Find(ctx, handle, map[string]any{"token": token})
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Blacklist marks tokens invalid ahead of expiry and answers membership
// queries during authentication.
type Blacklist struct {
	registry *RuleRegistry
	store    BlacklistStore
	tracker  *TokenTracker
	logger   Logger
}

// NewBlacklist wires a blacklist against a store and the tracker used for
// optional unregistration.
func NewBlacklist(registry *RuleRegistry, store BlacklistStore, tracker *TokenTracker, logger Logger) *Blacklist {
	if logger == nil {
		logger = defLogger{}
	}
	return &Blacklist{registry: registry, store: store, tracker: tracker, logger: logger}
}

// Add revokes a token ahead of its natural expiry. With alsoUnregister the
// token's tracked-issuance row is removed as well, the usual logout shape.
func (b *Blacklist) Add(ctx context.Context, ruleName, token string, extra map[string]any, alsoUnregister bool) error {
	rule, err := b.registry.Get(ruleName)
	if err != nil {
		return err
	}

	if err := b.store.Add(ctx, rule, token, extra); err != nil {
		return err
	}

	if alsoUnregister && rule.TrackIssuance {
		if err := b.tracker.Unregister(ctx, rule.Name, token); err != nil {
			return err
		}
	}

	b.logger.Info("token blacklisted under rule %q", rule.Name)
	return nil
}

// IsBlacklisted answers membership. Rules with blacklisting disabled always
// answer false, regardless of what any store contains.
func (b *Blacklist) IsBlacklisted(ctx context.Context, ruleName, token string) (bool, error) {
	rule, err := b.registry.Get(ruleName)
	if err != nil {
		return false, err
	}
	if !rule.BlacklistEnabled {
		return false, nil
	}
	return b.store.Contains(ctx, rule, token)
}
