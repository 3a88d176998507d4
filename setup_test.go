package sessions_test

import (
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	sessions "github.com/goliatone/go-sessions"
)

const migrationsDir = "data/sql/migrations"

// setupDB opens an in-memory sqlite database and applies the embedded
// migrations.
func setupDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	migrations := sessions.GetMigrationsFS()
	entries, err := migrations.ReadDir(migrationsDir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		ddl, err := migrations.ReadFile(migrationsDir + "/" + name)
		require.NoError(t, err)
		_, err = bunDB.Exec(string(ddl))
		require.NoError(t, err, "migration %s", name)
	}

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	return bunDB
}

// testConfig is the lifecycle configuration used by integration tests.
type testConfig struct {
	signingKey string
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	sessionTTL time.Duration
}

func newTestConfig() testConfig {
	return testConfig{
		signingKey: "integration-signing-key-32-bytes",
		issuer:     "go-sessions-test",
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		sessionTTL: 24 * time.Hour,
	}
}

func (c testConfig) GetSigningKey() string        { return c.signingKey }
func (c testConfig) GetIssuer() string            { return c.issuer }
func (c testConfig) GetAudience() []string        { return c.audience }
func (c testConfig) GetAccessTTL() time.Duration  { return c.accessTTL }
func (c testConfig) GetRefreshTTL() time.Duration { return c.refreshTTL }
func (c testConfig) GetSessionTTL() time.Duration { return c.sessionTTL }

func setupLifecycle(t *testing.T) *sessions.Lifecycle {
	t.Helper()
	return sessions.New(setupDB(t), newTestConfig()).WithLogger(silentLogger{})
}
