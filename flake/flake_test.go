package flake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/electron/ventifact/blueprint"
	"github.com/electron/ventifact/ingest"
	"github.com/electron/ventifact/store/schema"
	"github.com/electron/ventifact/store/sqltest"
)

// A rerun on the same commit and blueprint whose result differs from the
// immediately-previous run should produce a TestFlake row for the test
// that flipped.
func TestMarkFlakesSince_FlakeOnRerun(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	flakeStore := New(db)

	commit := []byte{0xAA, 0xBB}
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := t1.Add(time.Minute)

	results := []ingest.TestResult{{Title: "flaky", Passed: true}, {Title: "stable", Passed: true}}
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 1, Results: results, Timestamp: t1, CommitID: commit,
	}))

	results2 := []ingest.TestResult{{Title: "flaky", Passed: false}, {Title: "stable", Passed: true}}
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 2, Results: results2, Timestamp: t2, CommitID: commit,
	}))

	inserted, err := flakeStore.MarkFlakesSince(ctx, t1)
	require.NoError(t, err)
	require.Equal(t, 1, inserted)

	var source schema.Source
	var extID int32
	var testID int64
	row := db.QueryRow(ctx, `SELECT test_run_source, test_run_ext_id, test_blueprint_id FROM test_flakes`)
	require.NoError(t, row.Scan(&source, &extID, &testID))
	require.Equal(t, schema.SourceCircleCI, source)
	require.Equal(t, int32(2), extID)
	require.Equal(t, blueprint.TestID("flaky"), testID)
}

func TestMarkFlakesSince_IdempotentOnReprocessing(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	flakeStore := New(db)

	commit := []byte{0x01}
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := t1.Add(time.Minute)

	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceAppVeyor, ExtID: 10,
		Results:   []ingest.TestResult{{Title: "flaky", Passed: true}},
		Timestamp: t1, CommitID: commit,
	}))
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceAppVeyor, ExtID: 11,
		Results:   []ingest.TestResult{{Title: "flaky", Passed: false}},
		Timestamp: t2, CommitID: commit,
	}))

	first, err := flakeStore.MarkFlakesSince(ctx, t1)
	require.NoError(t, err)
	require.Equal(t, 1, first)

	second, err := flakeStore.MarkFlakesSince(ctx, t1)
	require.NoError(t, err)
	require.Equal(t, 0, second)

	var count int
	require.NoError(t, db.QueryRow(ctx, `SELECT count(*) FROM test_flakes`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestMarkFlakesSince_NoRerunsNoFlakes(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	flakeStore := New(db)

	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 1,
		Results:   []ingest.TestResult{{Title: "a", Passed: true}},
		Timestamp: time.Now().UTC(), CommitID: []byte{1},
	}))

	inserted, err := flakeStore.MarkFlakesSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, 0, inserted)
}

func TestLatestFlakeWatermark_AdvancesPastLastDetectedFlake(t *testing.T) {
	ctx := context.Background()
	db := sqltest.NewDB(ctx, t)
	ingestStore := ingest.New(db, nil)
	flakeStore := New(db)

	_, ok, err := flakeStore.LatestFlakeWatermark(ctx)
	require.NoError(t, err)
	require.False(t, ok, "a database with no flakes yet has no watermark")

	commit := []byte{0x02}
	t1 := time.Now().UTC().Add(-time.Hour)
	t2 := t1.Add(time.Minute)

	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 20,
		Results:   []ingest.TestResult{{Title: "flaky", Passed: true}},
		Timestamp: t1, CommitID: commit,
	}))
	require.NoError(t, ingestStore.InsertTestRun(ctx, ingest.Run{
		Source: schema.SourceCircleCI, ExtID: 21,
		Results:   []ingest.TestResult{{Title: "flaky", Passed: false}},
		Timestamp: t2, CommitID: commit,
	}))
	_, err = flakeStore.MarkFlakesSince(ctx, t1)
	require.NoError(t, err)

	watermark, ok, err := flakeStore.LatestFlakeWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, watermark.Equal(t2), "watermark should be the flake-causing run's timestamp, not the earlier baseline run's")
}
