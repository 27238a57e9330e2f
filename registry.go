package guard

import (
	"sort"
	"time"
)

// RuleRegistry maps rule names to immutable Rules and designates a default
// rule. Built once at startup, read-only afterwards; safe for concurrent
// readers.
type RuleRegistry struct {
	rules       map[string]*Rule
	defaultRule string
	logger      Logger
}

// RegistryOption configures a RuleRegistry during construction.
type RegistryOption func(*RuleRegistry)

// WithRegistryLogger overrides the registry logger.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *RuleRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRuleRegistry parses and validates every raw rule. Validation errors are
// collected per rule and reported together so a caller sees every
// misconfigured rule at once rather than fixing them one failure at a time.
func NewRuleRegistry(raw map[string]map[string]any, defaultRule string, opts ...RegistryOption) (*RuleRegistry, error) {
	registry := &RuleRegistry{
		rules:       make(map[string]*Rule, len(raw)),
		defaultRule: defaultRule,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		opt(registry)
	}

	if len(raw) == 0 {
		return nil, NewConfigurationError("no authentication rules provided", nil)
	}

	fieldErrors := map[string]any{}
	for name, fields := range raw {
		rule, err := ParseRule(name, fields)
		if err != nil {
			fieldErrors[name] = err
			continue
		}
		if err := rule.Validate(); err != nil {
			fieldErrors[name] = err
			continue
		}
		registry.rules[name] = rule
	}

	if len(fieldErrors) > 0 {
		return nil, NewConfigurationError("invalid authentication rules", fieldErrors)
	}

	if _, ok := registry.rules[defaultRule]; !ok {
		return nil, NewConfigurationError("default rule does not exist within the registered rules", map[string]any{
			"default_rule": defaultRule,
		})
	}

	registry.logger.Debug("rule registry initialized with %d rules, default %q", len(registry.rules), defaultRule)

	return registry, nil
}

// Get resolves a rule by name. The empty name resolves to the default rule.
func (r *RuleRegistry) Get(name string) (*Rule, error) {
	if name == "" {
		name = r.defaultRule
	}
	rule, ok := r.rules[name]
	if !ok {
		return nil, NewRuleNotFoundError(name)
	}
	return rule, nil
}

// DefaultRuleName returns the designated default rule name.
func (r *RuleRegistry) DefaultRuleName() string {
	return r.defaultRule
}

// Names lists registered rule names in stable order.
func (r *RuleRegistry) Names() []string {
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SecretKey returns the signing secret for a rule.
func (r *RuleRegistry) SecretKey(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.SecretKey == "" {
		return "", NewMissingFieldError(rule.Name, "secret_key")
	}
	return rule.SecretKey, nil
}

// Algorithm returns the signing algorithm for a rule.
func (r *RuleRegistry) Algorithm(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.Algorithm == "" {
		return "", NewMissingFieldError(rule.Name, "algorithm")
	}
	return rule.Algorithm, nil
}

// TokenLifetime returns the TTL configured for tokenType under the rule, or a
// missing field error when the rule never defined one for that type.
func (r *RuleRegistry) TokenLifetime(name, tokenType string) (time.Duration, error) {
	rule, err := r.Get(name)
	if err != nil {
		return 0, err
	}
	ttl, ok := rule.Lifetime(tokenType)
	if !ok {
		return 0, NewMissingFieldError(rule.Name, tokenType+"_ttl")
	}
	return ttl, nil
}

// EntityTable returns the table reference tokens bind their entity against.
func (r *RuleRegistry) EntityTable(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.EntityTable == "" {
		return "", NewMissingFieldError(rule.Name, "entity_table")
	}
	return rule.EntityTable, nil
}

// TrackTable returns the table reference issued tokens are recorded in.
func (r *RuleRegistry) TrackTable(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.TrackTable == "" {
		return "", NewMissingFieldError(rule.Name, "track_table")
	}
	return rule.TrackTable, nil
}

// BlacklistTable returns the table reference revoked tokens are stored in.
func (r *RuleRegistry) BlacklistTable(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.BlacklistTable == "" {
		return "", NewMissingFieldError(rule.Name, "blacklist_table")
	}
	return rule.BlacklistTable, nil
}

// TokenHeader returns the scheme prefix for bearer extraction, defaulted at parse time.
func (r *RuleRegistry) TokenHeader(name string) (string, error) {
	rule, err := r.Get(name)
	if err != nil {
		return "", err
	}
	if rule.TokenHeader == "" {
		return DefaultTokenHeader, nil
	}
	return rule.TokenHeader, nil
}

// Boolean flags never error: unknown rules resolve to the library defaults.

// TracksIssuance reports whether the rule records issued tokens.
func (r *RuleRegistry) TracksIssuance(name string) bool {
	rule, err := r.Get(name)
	if err != nil {
		return false
	}
	return rule.TrackIssuance
}

// AllowsDuplicateTracking reports whether the rule permits more than one
// tracked token per entity.
func (r *RuleRegistry) AllowsDuplicateTracking(name string) bool {
	rule, err := r.Get(name)
	if err != nil {
		return true
	}
	return rule.AllowDuplicateTracking
}

// BlacklistIsEnabled reports whether the rule consults a blacklist.
func (r *RuleRegistry) BlacklistIsEnabled(name string) bool {
	rule, err := r.Get(name)
	if err != nil {
		return false
	}
	return rule.BlacklistEnabled
}

// BindsToEntity reports whether tokens issued under the rule embed an entity id.
func (r *RuleRegistry) BindsToEntity(name string) bool {
	rule, err := r.Get(name)
	if err != nil {
		return false
	}
	return rule.BindToEntity
}
