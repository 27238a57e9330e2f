package guard

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// TokenTracker records token issuance against an owning entity and removes
// records when tokens are explicitly revoked.
type TokenTracker struct {
	registry *RuleRegistry
	gateway  PersistenceGateway
	logger   Logger
}

// NewTokenTracker wires a tracker against the registry and gateway.
func NewTokenTracker(registry *RuleRegistry, gateway PersistenceGateway, logger Logger) *TokenTracker {
	if logger == nil {
		logger = defLogger{}
	}
	return &TokenTracker{registry: registry, gateway: gateway, logger: logger}
}

// Record persists a tracked-token row for the issued token. When the rule
// disallows duplicates and a row already exists for the entity, it fails
// with a duplicate tracking error and nothing is inserted: the caller must
// treat the token as never issued.
//
// The existence check here is best effort; concurrent issuance for the same
// entity is ultimately arbitrated by the storage uniqueness constraints.
func (t *TokenTracker) Record(ctx context.Context, ruleName, token string, entityID any, tokenType string, extra map[string]any) error {
	rule, err := t.registry.Get(ruleName)
	if err != nil {
		return err
	}

	ref, err := t.registry.TrackTable(rule.Name)
	if err != nil {
		return err
	}
	handle, err := t.gateway.ResolveTable(ref)
	if err != nil {
		return err
	}

	entity := entityIDString(entityID)

	if !rule.AllowDuplicateTracking {
		existing, err := t.gateway.Find(ctx, handle, map[string]any{"entity_id": entity})
		if err != nil {
			return err
		}
		if existing != nil {
			return NewDuplicateTrackingError(rule.Name, entityID)
		}
	}

	record, ok := handle.NewRecord().(TrackedRecord)
	if !ok {
		return goerrors.New(
			fmt.Sprintf("track table %q model does not implement TrackedRecord", ref),
			goerrors.CategoryValidation,
		).WithTextCode(TextCodeConfiguration)
	}
	record.SetTracking(token, entity, tokenType, extra)

	if err := t.gateway.Create(ctx, record); err != nil {
		return err
	}

	t.logger.Debug("tracked %s token for entity %s under rule %q", tokenType, entity, rule.Name)
	return nil
}

// Unregister deletes the tracked row for the token if one exists. Revocation
// is idempotent: a missing row is not an error.
func (t *TokenTracker) Unregister(ctx context.Context, ruleName, token string) error {
	rule, err := t.registry.Get(ruleName)
	if err != nil {
		return err
	}

	ref, err := t.registry.TrackTable(rule.Name)
	if err != nil {
		return err
	}
	handle, err := t.gateway.ResolveTable(ref)
	if err != nil {
		return err
	}

	existing, err := t.gateway.Find(ctx, handle, map[string]any{"token": token})
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	return t.gateway.Delete(ctx, existing)
}

func entityIDString(entityID any) string {
	if entityID == nil {
		return ""
	}
	if s, ok := entityID.(string); ok {
		return s
	}
	return fmt.Sprint(entityID)
}
