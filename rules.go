package guard

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

// Token types issued and validated by the engine.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// DefaultTokenHeader is the scheme prefix stripped from inbound bearer values.
const DefaultTokenHeader = "Bearer "

// Rule is a named authentication policy. Rules are immutable once registered.
type Rule struct {
	Name        string
	Description string
	SecretKey   string
	Algorithm   string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// BindToEntity embeds "<EntityTable>_id" into issued claims.
	BindToEntity bool
	EntityTable  string

	TokenHeader string

	// TrackIssuance persists a record per issued token in TrackTable.
	TrackIssuance          bool
	TrackTable             string
	AllowDuplicateTracking bool

	BlacklistEnabled bool
	BlacklistTable   string

	// JWKSetURLs enables remote key set verification in the middleware for
	// rules not signed with the local secret.
	JWKSetURLs []string

	// Extra keeps unrecognized raw fields so hosts can hang their own
	// settings off a rule.
	Extra map[string]any
}

// Lifetime returns the TTL configured for the given token type.
func (r *Rule) Lifetime(tokenType string) (time.Duration, bool) {
	switch tokenType {
	case TokenTypeAccess:
		return r.AccessTTL, r.AccessTTL > 0
	case TokenTypeRefresh:
		return r.RefreshTTL, r.RefreshTTL > 0
	}
	return 0, false
}

// canonical field keys after alias normalization
var ruleFieldAliases = map[string]string{
	"description": "description",

	"secretkey": "secret_key",
	"algorithm": "algorithm",

	"accessttl":           "access_ttl",
	"accesstokenlifetime": "access_ttl",
	"accessexpiresin":     "access_ttl",

	"refreshttl":           "refresh_ttl",
	"refreshtokenlifetime": "refresh_ttl",
	"refreshexpiresin":     "refresh_ttl",

	"bindtoentity": "bind_to_entity",
	"table":        "bind_to_entity",
	"tabel":        "bind_to_entity",

	"entitytable":    "entity_table",
	"entitytableref": "entity_table",
	"tablepath":      "entity_table",
	"tabelpath":      "entity_table",

	"tokenheader": "token_header",

	"trackissuance": "track_issuance",
	"trackcreated":  "track_issuance",

	"tracktable":            "track_table",
	"tracktableref":         "track_table",
	"trackcreatedtablepath": "track_table",

	"allowduplicatetracking":      "allow_duplicate_tracking",
	"trackcreatedallowduplicates": "allow_duplicate_tracking",

	"blacklistenabled": "blacklist_enabled",
	"blacklisted":      "blacklist_enabled",

	"blacklisttable":       "blacklist_table",
	"blacklisttableref":    "blacklist_table",
	"blacklistedtablepath": "blacklist_table",

	"jwksurls":   "jwks_urls",
	"jwkseturls": "jwks_urls",
	"jwkseturl":  "jwks_urls",
}

func normalizeRuleKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return strings.ReplaceAll(key, "_", "")
}

// ParseRule builds a Rule from a raw field mapping, accepting UPPER_SNAKE,
// lower_snake, and CamelCase spellings of every field. Unknown keys land in
// Rule.Extra. Parsing applies defaults but does not validate invariants.
func ParseRule(name string, raw map[string]any) (*Rule, error) {
	rule := &Rule{
		Name:                   name,
		TokenHeader:            DefaultTokenHeader,
		AllowDuplicateTracking: true,
	}

	errs := validation.Errors{}

	for key, value := range raw {
		canonical, known := ruleFieldAliases[normalizeRuleKey(key)]
		if !known {
			if rule.Extra == nil {
				rule.Extra = map[string]any{}
			}
			rule.Extra[key] = value
			continue
		}

		var err error
		switch canonical {
		case "description":
			rule.Description, err = toString(value)
		case "secret_key":
			rule.SecretKey, err = toString(value)
		case "algorithm":
			rule.Algorithm, err = toString(value)
		case "access_ttl":
			rule.AccessTTL, err = toDuration(value)
		case "refresh_ttl":
			rule.RefreshTTL, err = toDuration(value)
		case "bind_to_entity":
			rule.BindToEntity, err = toBool(value)
		case "entity_table":
			rule.EntityTable, err = toString(value)
		case "token_header":
			rule.TokenHeader, err = toString(value)
		case "track_issuance":
			rule.TrackIssuance, err = toBool(value)
		case "track_table":
			rule.TrackTable, err = toString(value)
		case "allow_duplicate_tracking":
			rule.AllowDuplicateTracking, err = toBool(value)
		case "blacklist_enabled":
			rule.BlacklistEnabled, err = toBool(value)
		case "blacklist_table":
			rule.BlacklistTable, err = toString(value)
		case "jwks_urls":
			rule.JWKSetURLs, err = toStringSlice(value)
		}

		if err != nil {
			errs[canonical] = err
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return rule, nil
}

// Validate enforces the structural invariants of a rule: required signing
// fields, a non-blank token header, and a table reference behind every
// enabled table-backed feature.
func (r *Rule) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.Description, validation.Required),
		validation.Field(&r.SecretKey, validation.Required),
		validation.Field(&r.Algorithm, validation.Required),
		validation.Field(&r.AccessTTL, validation.Required),
	)

	errs := validation.Errors{}
	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			errs[field] = ferr
		}
	} else if err != nil {
		return err
	}

	if strings.TrimSpace(r.TokenHeader) == "" {
		errs["TokenHeader"] = fmt.Errorf("%q is not a valid token header", r.TokenHeader)
	}
	if r.BindToEntity && r.EntityTable == "" {
		errs["EntityTable"] = fmt.Errorf("required when bind_to_entity is enabled")
	}
	if r.TrackIssuance && r.TrackTable == "" {
		errs["TrackTable"] = fmt.Errorf("required when track_issuance is enabled")
	}
	if r.BlacklistEnabled && r.BlacklistTable == "" {
		errs["BlacklistTable"] = fmt.Errorf("required when blacklist_enabled is enabled")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// TableRefs lists every table reference the rule's enabled features depend on.
func (r *Rule) TableRefs() []string {
	var refs []string
	if r.BindToEntity && r.EntityTable != "" {
		refs = append(refs, r.EntityTable)
	}
	if r.TrackIssuance && r.TrackTable != "" {
		refs = append(refs, r.TrackTable)
	}
	if r.BlacklistEnabled && r.BlacklistTable != "" {
		refs = append(refs, r.BlacklistTable)
	}
	return refs
}

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toBool(v any) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

// toDuration accepts time.Duration, duration strings ("30m"), and numeric
// seconds, matching the loose config spellings hosts feed us.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("%q is not a valid duration", d)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("expected duration, got %T", v)
}

func toStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, el := range s {
			str, ok := el.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", el)
			}
			out = append(out, str)
		}
		return out, nil
	case string:
		return []string{s}, nil
	}
	return nil, fmt.Errorf("expected string list, got %T", v)
}
