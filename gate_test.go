package guard_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	guard "github.com/goliatone/go-jwt-guard"
)

func setupEngine(t *testing.T) *guard.Engine {
	t.Helper()

	db := setupTestDB(t)
	engine, err := guard.Setup(db, map[string]map[string]any{
		"DEFAULT": simpleRule(),
		"BOUND":   boundRule(true),
	}, "DEFAULT", guard.WithTable("users", func() any { return &testUser{} }))
	require.NoError(t, err)

	return engine
}

func TestAuthenticationGate_Allow(t *testing.T) {
	ctx := context.Background()
	engine := setupEngine(t)

	token, err := engine.IssueAccessToken(ctx, guard.IssueOptions{})
	require.NoError(t, err)

	decision, err := engine.Authenticate(ctx, token, guard.GateConfig{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, guard.TokenTypeAccess, decision.Claims.Type())
	assert.Nil(t, decision.Entity)
}

func TestAuthenticationGate_Deny(t *testing.T) {
	ctx := context.Background()
	engine := setupEngine(t)

	t.Run("empty token", func(t *testing.T) {
		decision, err := engine.Authenticate(ctx, "", guard.GateConfig{})
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("garbage token", func(t *testing.T) {
		decision, err := engine.Authenticate(ctx, "not.a.token", guard.GateConfig{})
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})

	t.Run("wrong token type", func(t *testing.T) {
		refresh, err := engine.IssueRefreshToken(ctx, guard.IssueOptions{})
		require.NoError(t, err)

		decision, err := engine.Authenticate(ctx, refresh, guard.GateConfig{})
		require.NoError(t, err)
		assert.False(t, decision.Allowed)

		decision, err = engine.Authenticate(ctx, refresh, guard.GateConfig{
			TokenType: guard.TokenTypeRefresh,
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})

	t.Run("token signed under a different rule", func(t *testing.T) {
		insertUser(t, engine.Gateway().DB(), "u-d", "dana")
		token, err := engine.IssueAccessToken(ctx, guard.IssueOptions{
			RuleName: "BOUND",
			EntityID: "u-d",
		})
		require.NoError(t, err)

		decision, err := engine.Authenticate(ctx, token, guard.GateConfig{})
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
	})
}

func TestAuthenticationGate_BlacklistedBeforeDecode(t *testing.T) {
	ctx := context.Background()
	engine := setupEngine(t)
	insertUser(t, engine.Gateway().DB(), "u-1", "alice")

	token, err := engine.IssueAccessToken(ctx, guard.IssueOptions{
		RuleName: "BOUND",
		EntityID: "u-1",
	})
	require.NoError(t, err)

	decision, err := engine.Authenticate(ctx, token, guard.GateConfig{RuleName: "BOUND"})
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	require.NoError(t, engine.BlacklistToken(ctx, "BOUND", token, nil, true))

	decision, err = engine.Authenticate(ctx, token, guard.GateConfig{RuleName: "BOUND"})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthenticationGate_EntityResolution(t *testing.T) {
	ctx := context.Background()
	engine := setupEngine(t)
	insertUser(t, engine.Gateway().DB(), "u-1", "alice")

	token, err := engine.IssueAccessToken(ctx, guard.IssueOptions{
		RuleName: "BOUND",
		EntityID: "u-1",
	})
	require.NoError(t, err)

	t.Run("resolves the owning row", func(t *testing.T) {
		decision, err := engine.Authenticate(ctx, token, guard.GateConfig{
			RuleName:   "BOUND",
			BindEntity: true,
		})
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.NotNil(t, decision.Entity)

		user := decision.Entity.(*testUser)
		assert.Equal(t, "u-1", user.ID)
		assert.Equal(t, "alice", user.Name)
	})

	t.Run("missing row allows with nil entity", func(t *testing.T) {
		ghost, err := engine.IssueAccessToken(ctx, guard.IssueOptions{
			RuleName: "BOUND",
			EntityID: "u-ghost",
		})
		require.NoError(t, err)

		decision, err := engine.Authenticate(ctx, ghost, guard.GateConfig{
			RuleName:   "BOUND",
			BindEntity: true,
		})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Nil(t, decision.Entity)
	})
}

func TestAuthenticationGate_DecodeOverride(t *testing.T) {
	ctx := context.Background()
	engine := setupEngine(t)

	called := false
	decision, err := engine.Authenticate(ctx, "opaque-token", guard.GateConfig{
		Decode: func(token string) guard.DecodeResult {
			called = true
			assert.Equal(t, "opaque-token", token)
			return guard.DecodeResult{
				Claims: guard.Claims{guard.ClaimType: guard.TokenTypeAccess},
				Status: guard.TokenValid,
			}
		},
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, decision.Allowed)
}

func TestAuthenticationGate_UnknownRulePropagates(t *testing.T) {
	engine := setupEngine(t)
	_, err := engine.Authenticate(context.Background(), "some-token", guard.GateConfig{RuleName: "GHOST"})
	require.Error(t, err)
	assert.True(t, guard.IsRuleNotFound(err))
}
