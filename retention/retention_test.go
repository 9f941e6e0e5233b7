package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/electron/ventifact/ingest"
	"github.com/electron/ventifact/store/schema"
	"github.com/electron/ventifact/store/sqltest"
)

// Once its only referencing TestRun ages out, a TestRunBlueprint (and any
// TestBlueprint rows left with no other referrer) should be deleted too.
func TestPurgeRunsBefore_RemovesOrphans(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	retentionStore := New(db)

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI,
		ExtID:  1,
		Results: []ingest.TestResult{
			{Title: "boot", Passed: true},
			{Title: "ipc", Passed: true},
			{Title: "ui", Passed: true},
		},
		Timestamp: ts,
		CommitID:  []byte{1},
	}))

	deleted, err := retentionStore.PurgeRunsBefore(ctx, ts.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	counts := sqltest.RowCounts(ctx, t, db)
	for _, table := range []string{"test_runs", "test_run_blueprints", "test_blueprints", "test_flakes"} {
		require.Equal(t, 0, counts[table], "table %s should be empty", table)
	}
	require.Equal(t, 0, counts["prs"], "PurgeRunsBefore must never touch prs rows")
}

func TestPurgeRunsBefore_PreservesStillReferencedBlueprints(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	retentionStore := New(db)

	shared := []ingest.TestResult{{Title: "a", Passed: true}, {Title: "b", Passed: true}}
	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 1, Results: shared, Timestamp: old, CommitID: []byte{1},
	}))
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 2, Results: shared, Timestamp: recent, CommitID: []byte{2},
	}))

	cutoff := old.Add(time.Hour)
	deleted, err := retentionStore.PurgeRunsBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	var runBlueprintCount, blueprintCount int
	require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM test_run_blueprints`).Scan(&runBlueprintCount))
	require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM test_blueprints`).Scan(&blueprintCount))
	require.Equal(t, 1, runBlueprintCount)
	require.Equal(t, 2, blueprintCount)
}

func TestPurgeRunsBefore_IdempotentOnSecondPass(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	retentionStore := New(db)

	ts := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 1,
		Results:   []ingest.TestResult{{Title: "a", Passed: true}},
		Timestamp: ts, CommitID: []byte{1},
	}))

	cutoff := ts.Add(time.Second)
	_, err := retentionStore.PurgeRunsBefore(ctx, cutoff)
	require.NoError(t, err)

	deleted, err := retentionStore.PurgeRunsBefore(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)
}

func TestPurgePRsBefore_DeletesOnlyExpiredPRs(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	retentionStore := New(db)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	_, err := db.Exec(ctx, `INSERT INTO prs (number, merged_at, status) VALUES ($1, $2, $3)`,
		int32(1), old, schema.PRStatusSuccess)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO prs (number, merged_at, status) VALUES ($1, $2, $3)`,
		int32(2), recent, schema.PRStatusSuccess)
	require.NoError(t, err)

	deleted, err := retentionStore.PurgePRsBefore(ctx, old.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	var remaining int32
	require.NoError(t, db.QueryRow(ctx, `SELECT number FROM prs`).Scan(&remaining))
	require.Equal(t, int32(2), remaining)
}
