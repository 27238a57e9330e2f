package guardware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	guard "github.com/goliatone/go-jwt-guard"
	"github.com/goliatone/go-router"
)

var (
	defaultTokenLookup = "header:" + router.HeaderAuthorization
	ErrTokenMissing    = errors.New("missing or malformed token")
)

// Authenticator runs the allow/deny pipeline. Satisfied by
// *guard.AuthenticationGate and by *guard.Engine.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, cfg guard.GateConfig) (guard.Decision, error)
}

type Config struct {
	// Gate is required: it decides whether the request proceeds.
	Gate Authenticator
	// Registry resolves the rule's token header scheme. Optional; without it
	// the default "Bearer" scheme applies.
	Registry *guard.RuleRegistry

	// RuleName selects the policy; empty resolves to the default rule.
	RuleName string
	// TokenType the route expects; defaults to access.
	TokenType string
	// BindEntity resolves the owning entity and stores it under EntityKey.
	BindEntity bool
	// IDField names the entity primary key column. Defaults to "id".
	IDField string

	Filter         func(router.Context) bool
	SuccessHandler router.HandlerFunc
	ErrorHandler   router.ErrorHandler

	// ContextKey is the locals key holding the claims. Defaults to "claims".
	ContextKey string
	// EntityKey is the locals key holding the resolved entity. Defaults to
	// "entity".
	EntityKey string
	// TokenLookup is a comma-separated list of sources in
	// "<source>:<name>" form: header, query, param, cookie.
	TokenLookup string
	// AuthScheme overrides the scheme stripped from header values. When
	// empty the rule's token header is used.
	AuthScheme string

	// JWKSetURLs verifies tokens against remote key sets instead of the
	// rule's local secret.
	JWKSetURLs []string
	// KeyFunc overrides JWKS resolution entirely.
	KeyFunc jwt.Keyfunc

	// ContextEnricher propagates claims into the standard Go context after a
	// successful authentication.
	ContextEnricher func(c context.Context, claims guard.Claims) context.Context
}

// New builds a middleware that authenticates every request through the gate
// and stores the resulting claims in context locals.
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := GetDefaultConfig(config...)
		return func(ctx router.Context) error {
			if cfg.Filter != nil && cfg.Filter(ctx) {
				return ctx.Next()
			}

			raw, err := ExtractRawTokenFromContext(ctx, cfg.getExtractors())
			if err != nil {
				return cfg.ErrorHandler(ctx, guard.ErrUnauthorized)
			}

			decision, err := cfg.Gate.Authenticate(ctx.Context(), raw, cfg.gateConfig())
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}
			if !decision.Allowed {
				return cfg.ErrorHandler(ctx, guard.ErrUnauthorized)
			}

			ctx.Locals(cfg.ContextKey, decision.Claims)
			if cfg.BindEntity && decision.Entity != nil {
				ctx.Locals(cfg.EntityKey, decision.Entity)
			}

			if cfg.ContextEnricher != nil {
				stdCtx := cfg.ContextEnricher(ctx.Context(), decision.Claims)
				ctx.SetContext(stdCtx)
			}

			return cfg.SuccessHandler(ctx)
		}
	}
}

func (cfg *Config) gateConfig() guard.GateConfig {
	gc := guard.GateConfig{
		RuleName:   cfg.RuleName,
		TokenType:  cfg.TokenType,
		BindEntity: cfg.BindEntity,
		IDField:    cfg.IDField,
	}
	if cfg.KeyFunc != nil {
		gc.Decode = keyfuncDecode(cfg.KeyFunc)
	}
	return gc
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Gate == nil {
		panic("GUARD: middleware configuration: Gate is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(ctx router.Context) error {
			return ctx.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}

	if cfg.EntityKey == "" {
		cfg.EntityKey = "entity"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = ruleAuthScheme(cfg.Registry, cfg.RuleName)
	}

	if cfg.KeyFunc == nil && len(cfg.JWKSetURLs) > 0 {
		var err error
		cfg.KeyFunc, err = multiKeyfunc(cfg.JWKSetURLs)
		if err != nil {
			panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
		}
	}

	return cfg
}

// defaultErrorHandler keeps deny responses uniform: every authentication
// failure is the same 401 body, everything else a generic 500.
func defaultErrorHandler(c router.Context, err error) error {
	var gerr *goerrors.Error
	if errors.As(err, &gerr) && gerr.Category == goerrors.CategoryAuth {
		return c.JSON(router.StatusUnauthorized, map[string]string{
			"error": "Unauthorized access",
		})
	}
	return c.JSON(router.StatusInternalServerError, map[string]string{
		"error": "Internal server error",
	})
}

// ruleAuthScheme derives the header scheme from the rule's token header,
// e.g. "Bearer " becomes "Bearer".
func ruleAuthScheme(registry *guard.RuleRegistry, ruleName string) string {
	if registry == nil {
		return "Bearer"
	}
	header, err := registry.TokenHeader(ruleName)
	if err != nil {
		return "Bearer"
	}
	scheme := strings.TrimSpace(header)
	if scheme == "" {
		return "Bearer"
	}
	return scheme
}

// keyfuncDecode adapts a jwt.Keyfunc into the gate's decode hook, applying
// the same total classification the local codec uses.
func keyfuncDecode(kf jwt.Keyfunc) func(token string) guard.DecodeResult {
	return func(tokenString string) guard.DecodeResult {
		parsed, err := jwt.Parse(tokenString, kf)
		if err != nil {
			status := guard.TokenMalformed
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				status = guard.TokenExpired
			case errors.Is(err, jwt.ErrTokenSignatureInvalid):
				status = guard.TokenSignatureInvalid
			}
			return guard.DecodeResult{Status: status, Reason: err}
		}
		mapClaims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok || !parsed.Valid {
			return guard.DecodeResult{Status: guard.TokenMalformed, Reason: errors.New("unusable claims")}
		}
		return guard.DecodeResult{Claims: guard.Claims(mapClaims), Status: guard.TokenValid}
	}
}

func multiKeyfunc(jwtSetUrls []string) (jwt.Keyfunc, error) {
	opts := keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	m := make(map[string]keyfunc.Options, len(jwtSetUrls))
	for _, url := range jwtSetUrls {
		m[url] = opts
	}
	mopts := keyfunc.MultipleOptions{
		KeySelector: keyfunc.KeySelectorFirst,
	}
	multi, err := keyfunc.GetMultiple(m, mopts)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWT URLs: %w", err)
	}
	return multi.Keyfunc, nil
}

func ExtractRawTokenFromContext(ctx router.Context, extractors []TokenExtractor) (string, error) {
	var raw string
	var err error

	for _, extractor := range extractors {
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func (cfg *Config) getExtractors() []TokenExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func GetExtractors(tokenLookup string, authSchemes ...string) []TokenExtractor {
	extractors := make([]TokenExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,cookie:jwt,query:auth_token,param:token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		switch parts[0] {
		case "header":
			extractors = append(extractors, tokenFromHeader(parts[1], authScheme))
		case "query":
			extractors = append(extractors, tokenFromQuery(parts[1]))
		case "param":
			extractors = append(extractors, tokenFromParam(parts[1]))
		case "cookie":
			extractors = append(extractors, tokenFromCookie(parts[1]))
		}
	}

	return extractors
}

type TokenExtractor func(c router.Context) (string, error)

// tokenFromHeader returns a function that extracts the token from the
// request header, stripping the auth scheme prefix.
func tokenFromHeader(header string, authScheme string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		a := c.GetString(header, "")
		authScheme = strings.TrimSpace(authScheme)
		l := len(authScheme)
		if l == 0 {
			return strings.TrimSpace(a), nil
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrTokenMissing
	}
}

// tokenFromQuery returns a function that extracts the token from the query string.
func tokenFromQuery(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Query(param, "")
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}

// tokenFromParam returns a function that extracts the token from the url param string.
func tokenFromParam(param string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Param(param)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}

// tokenFromCookie returns a function that extracts the token from the named cookie.
func tokenFromCookie(name string) func(c router.Context) (string, error) {
	return func(c router.Context) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrTokenMissing
		}
		return token, nil
	}
}
