package guardware_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"

	guard "github.com/goliatone/go-jwt-guard"
	"github.com/goliatone/go-jwt-guard/middleware/guardware"
)

type testUser struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID   string `bun:"id,pk"`
	Name string `bun:"name"`
}

func setupEngine(t *testing.T) *guard.Engine {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())
	_, err = bunDB.Exec("CREATE TABLE users (id TEXT NOT NULL PRIMARY KEY, name TEXT);")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	engine, err := guard.Setup(bunDB, map[string]map[string]any{
		"DEFAULT": {
			"DESCRIPTION": "plain access tokens",
			"SECRET_KEY":  "test-secret",
			"ALGORITHM":   "HS256",
			"ACCESS_TTL":  "30m",
			"REFRESH_TTL": "720h",
		},
		"CUSTOM_HEADER": {
			"DESCRIPTION":  "custom scheme tokens",
			"SECRET_KEY":   "custom-secret",
			"ALGORITHM":    "HS256",
			"ACCESS_TTL":   "30m",
			"TOKEN_HEADER": "JWT ",
		},
		"BOUND": {
			"DESCRIPTION": "tokens bound to users",
			"SECRET_KEY":  "bound-secret",
			"ALGORITHM":   "HS256",
			"ACCESS_TTL":  "30m",
			"TABEL":       true,
			"TABEL_PATH":  "users",
		},
	}, "DEFAULT", guard.WithTable("users", func() any { return &testUser{} }))
	require.NoError(t, err)

	return engine
}

func runMiddleware(cfg guardware.Config, ctx router.Context) error {
	handler := guardware.New(cfg)(func(c router.Context) error {
		return c.Next()
	})
	return handler(ctx)
}

func TestGuardware_HeaderExtraction(t *testing.T) {
	engine := setupEngine(t)

	token, err := engine.IssueAccessToken(context.Background(), guard.IssueOptions{})
	require.NoError(t, err)

	cfg := guardware.Config{
		Gate:     engine,
		Registry: engine.Registry(),
	}

	t.Run("valid token proceeds", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer " + token
		ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
		ctx.On("Locals", "claims", mock.AnythingOfType("guard.Claims")).Return(nil)

		require.NoError(t, runMiddleware(cfg, ctx))
		assert.True(t, ctx.NextCalled)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		var rejected error
		cfg := guardware.Config{
			Gate:     engine,
			Registry: engine.Registry(),
			ErrorHandler: func(c router.Context, err error) error {
				rejected = err
				return err
			},
		}

		ctx := router.NewMockContext()
		ctx.On("GetString", "Authorization", "").Return("")

		err := runMiddleware(cfg, ctx)
		require.Error(t, err)
		assert.ErrorIs(t, rejected, guard.ErrUnauthorized)
		assert.False(t, ctx.NextCalled)
	})

	t.Run("forged token is rejected", func(t *testing.T) {
		cfg := guardware.Config{
			Gate:     engine,
			Registry: engine.Registry(),
			ErrorHandler: func(c router.Context, err error) error {
				return err
			},
		}

		ctx := router.NewMockContext()
		ctx.HeadersM["Authorization"] = "Bearer bad.token.here"
		ctx.On("GetString", "Authorization", "").Return("Bearer bad.token.here")

		err := runMiddleware(cfg, ctx)
		require.Error(t, err)

		var gerr *goerrors.Error
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, goerrors.CategoryAuth, gerr.Category)
	})
}

func TestGuardware_QueryExtraction(t *testing.T) {
	engine := setupEngine(t)

	token, err := engine.IssueAccessToken(context.Background(), guard.IssueOptions{})
	require.NoError(t, err)

	cfg := guardware.Config{
		Gate:        engine,
		Registry:    engine.Registry(),
		TokenLookup: "query:token",
	}

	ctx := router.NewMockContext()
	ctx.QueriesM["token"] = token
	ctx.On("Locals", "claims", mock.AnythingOfType("guard.Claims")).Return(nil)

	require.NoError(t, runMiddleware(cfg, ctx))
	assert.True(t, ctx.NextCalled)
}

func TestGuardware_RuleTokenHeaderScheme(t *testing.T) {
	engine := setupEngine(t)

	token, err := engine.IssueAccessToken(context.Background(), guard.IssueOptions{
		RuleName: "CUSTOM_HEADER",
	})
	require.NoError(t, err)

	cfg := guardware.Config{
		Gate:     engine,
		Registry: engine.Registry(),
		RuleName: "CUSTOM_HEADER",
	}

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "JWT " + token
	ctx.On("GetString", "Authorization", "").Return("JWT " + token)
	ctx.On("Locals", "claims", mock.AnythingOfType("guard.Claims")).Return(nil)

	require.NoError(t, runMiddleware(cfg, ctx))
	assert.True(t, ctx.NextCalled)
}

func TestGuardware_EntityBinding(t *testing.T) {
	engine := setupEngine(t)
	ctxBg := context.Background()

	_, err := engine.Gateway().DB().NewInsert().
		Model(&testUser{ID: "u-1", Name: "alice"}).
		Exec(ctxBg)
	require.NoError(t, err)

	token, err := engine.IssueAccessToken(ctxBg, guard.IssueOptions{
		RuleName: "BOUND",
		EntityID: "u-1",
	})
	require.NoError(t, err)

	cfg := guardware.Config{
		Gate:       engine,
		Registry:   engine.Registry(),
		RuleName:   "BOUND",
		BindEntity: true,
	}

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer " + token
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "claims", mock.AnythingOfType("guard.Claims")).Return(nil)
	ctx.On("Locals", "entity", mock.AnythingOfType("*guardware_test.testUser")).Return(nil)

	require.NoError(t, runMiddleware(cfg, ctx))
	assert.True(t, ctx.NextCalled)
}

// customPathMock overrides Path() from the base MockContext.
type customPathMock struct {
	*router.MockContext
	pathOverride string
}

func (m *customPathMock) Path() string {
	return m.pathOverride
}

func TestGuardware_Filter(t *testing.T) {
	engine := setupEngine(t)

	cfg := guardware.Config{
		Gate:     engine,
		Registry: engine.Registry(),
		Filter: func(ctx router.Context) bool {
			return ctx.Path() == "/public"
		},
	}

	ctx := &customPathMock{
		MockContext:  router.NewMockContext(),
		pathOverride: "/public",
	}

	require.NoError(t, runMiddleware(cfg, ctx))
	assert.True(t, ctx.NextCalled)
}

func TestGuardware_ContextEnricher(t *testing.T) {
	engine := setupEngine(t)

	token, err := engine.IssueAccessToken(context.Background(), guard.IssueOptions{})
	require.NoError(t, err)

	enriched := false
	cfg := guardware.Config{
		Gate:     engine,
		Registry: engine.Registry(),
		ContextEnricher: func(c context.Context, claims guard.Claims) context.Context {
			enriched = true
			return guard.WithClaimsContext(c, claims)
		},
	}

	ctx := router.NewMockContext()
	ctx.HeadersM["Authorization"] = "Bearer " + token
	ctx.On("GetString", "Authorization", "").Return("Bearer " + token)
	ctx.On("Locals", "claims", mock.AnythingOfType("guard.Claims")).Return(nil)

	require.NoError(t, runMiddleware(cfg, ctx))
	assert.True(t, enriched)

	claims, ok := guard.ClaimsFromContext(ctx.Context())
	assert.True(t, ok)
	assert.Equal(t, guard.TokenTypeAccess, claims.Type())
}
