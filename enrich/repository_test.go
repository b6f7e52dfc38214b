package enrich

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/cdcrelay/cfg"
	"github.com/maxpert/cdcrelay/registry"
)

var queueLookup = registry.Lookup{Table: "queues", KeyColumn: "id", OrgColumn: "orgId"}

func openLookupDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "lookup.db")
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE queues (id INTEGER PRIMARY KEY, orgId INTEGER, name TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO queues (id, orgId, name) VALUES (9, 300, 'support'), (10, NULL, 'orphan')`)
	require.NoError(t, err)
	return db, dsn
}

func TestSQLRepository_LookupOrgByKey(t *testing.T) {
	db, _ := openLookupDB(t)
	repo := NewSQLRepository(db, "sqlite3", time.Second)

	orgID, found, err := repo.LookupOrgByKey(context.Background(), queueLookup, "9")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(300), orgID)

	_, found, err = repo.LookupOrgByKey(context.Background(), queueLookup, "404")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = repo.LookupOrgByKey(context.Background(), queueLookup, "10")
	require.NoError(t, err)
	assert.False(t, found, "NULL org column is not found")
}

func TestSQLRepository_QueryFailure(t *testing.T) {
	db, _ := openLookupDB(t)
	repo := NewSQLRepository(db, "sqlite3", time.Second)

	_, _, err := repo.LookupOrgByKey(context.Background(), registry.Lookup{Table: "missing", KeyColumn: "id", OrgColumn: "orgId"}, "1")
	assert.Error(t, err)
}

func TestSQLRepository_CancelledContext(t *testing.T) {
	db, _ := openLookupDB(t)
	repo := NewSQLRepository(db, "sqlite3", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := repo.LookupOrgByKey(ctx, queueLookup, "9")
	assert.Error(t, err)
}

func TestOpenSQLRepository(t *testing.T) {
	_, dsn := openLookupDB(t)

	conf := cfg.Default().Enrichment
	conf.Driver = "sqlite3"
	conf.DSN = dsn
	conf.MaxOpenConns = 2

	repo, err := OpenSQLRepository(context.Background(), conf)
	require.NoError(t, err)
	defer repo.Close()

	orgID, found, err := repo.LookupOrgByKey(context.Background(), queueLookup, "9")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(300), orgID)
}

func TestRouter_WithSQLRepository(t *testing.T) {
	db, _ := openLookupDB(t)
	router := NewRouter(NewSQLRepository(db, "sqlite3", time.Second))

	desc, err := registry.Default().Resolve("queue_members")
	require.NoError(t, err)

	got, err := router.Enrich(context.Background(), recordWith(map[string]any{"queueId": float64(9), "userId": float64(12)}), desc)
	require.NoError(t, err)
	require.NotNil(t, got.OrgID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(300), *got.OrgID)
	assert.Equal(t, int64(12), *got.UserID)
}
