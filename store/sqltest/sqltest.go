// Package sqltest spins up a disposable CockroachDB-backed database for
// integration-style tests of the ingest/retention/flake packages. Tests
// that need it are expected to run against a `cockroach` binary reachable
// on $PATH and a running insecure node.
package sqltest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"os"
	"os/exec"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/electron/ventifact/store/schema"
)

// cockroachHostEnvVar names the environment variable holding the
// "host:port" of a running insecure CockroachDB node.
const cockroachHostEnvVar = "VENTIFACT_COCKROACHDB_HOST"

// NewDB creates a randomly named database on the CockroachDB instance named
// by VENTIFACT_COCKROACHDB_HOST, applies schema.Schema to it, and registers
// a cleanup that closes the pool. The test is skipped if the environment
// variable is unset.
func NewDB(ctx context.Context, t testing.TB) *pgxpool.Pool {
	host := os.Getenv(cockroachHostEnvVar)
	if host == "" {
		t.Skipf("%s not set; skipping test that requires a CockroachDB instance", cockroachHostEnvVar)
	}

	cockroach, err := exec.LookPath("cockroach")
	require.NoError(t, err, "cockroach binary not found on PATH")

	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	require.NoError(t, err)
	dbName := fmt.Sprintf("ventifact_test_%s", n.String())

	out, err := exec.Command(cockroach, "sql", "--insecure", "--host="+host,
		"--execute=CREATE DATABASE IF NOT EXISTS "+dbName).CombinedOutput()
	require.NoErrorf(t, err, "creating test database: %s", out)

	connectionString := fmt.Sprintf("postgresql://root@%s/%s?sslmode=disable", host, dbName)
	conf, err := pgxpool.ParseConfig(connectionString)
	require.NoError(t, err)
	conf.MaxConns = 4
	pool, err := pgxpool.ConnectConfig(ctx, conf)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schema.Schema)
	require.NoError(t, err)

	return pool
}

// RowCounts returns the row count of every table in schema.TableNames, so
// tests can assert on the whole storage graph without hand-maintaining
// their own table list.
func RowCounts(ctx context.Context, t testing.TB, db *pgxpool.Pool) map[string]int {
	counts := make(map[string]int, len(schema.TableNames()))
	for _, table := range schema.TableNames() {
		var count int
		require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&count))
		counts[table] = count
	}
	return counts
}
