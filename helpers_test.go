package guard_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT NOT NULL PRIMARY KEY,
    name TEXT
);`
	sqliteCreateTrackedTokens = `CREATE TABLE tracked_tokens (
    token TEXT NOT NULL PRIMARY KEY,
    entity_id TEXT NOT NULL,
    token_type TEXT NOT NULL,
    extra TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
	sqliteCreateBlacklistedTokens = `CREATE TABLE blacklisted_tokens (
    token TEXT NOT NULL PRIMARY KEY,
    extra TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`
)

type testUser struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID   string `bun:"id,pk"`
	Name string `bun:"name"`
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	for _, ddl := range []string{sqliteCreateUsers, sqliteCreateTrackedTokens, sqliteCreateBlacklistedTokens} {
		_, err = bunDB.Exec(ddl)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	return bunDB
}

func insertUser(t *testing.T, db *bun.DB, id, name string) {
	t.Helper()
	_, err := db.NewInsert().Model(&testUser{ID: id, Name: name}).Exec(context.Background())
	require.NoError(t, err)
}

func simpleRule() map[string]any {
	return map[string]any{
		"DESCRIPTION": "plain access tokens",
		"SECRET_KEY":  "test-secret",
		"ALGORITHM":   "HS256",
		"ACCESS_TTL":  "30m",
		"REFRESH_TTL": "720h",
	}
}

func boundRule(allowDuplicates bool) map[string]any {
	return map[string]any{
		"DESCRIPTION":                    "tracked tokens bound to users",
		"SECRET_KEY":                     "bound-secret",
		"ALGORITHM":                      "HS256",
		"ACCESS_TTL":                     "30m",
		"REFRESH_TTL":                    "720h",
		"TABEL":                          true,
		"TABEL_PATH":                     "users",
		"TRACK_CREATED":                  true,
		"TRACK_CREATED_TABLE_PATH":       "tracked_tokens",
		"TRACK_CREATED_ALLOW_DUPLICATES": allowDuplicates,
		"BLACKLISTED":                    true,
		"BLACKLISTED_TABLE_PATH":         "blacklisted_tokens",
	}
}
