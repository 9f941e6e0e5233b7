// Package ingest implements the transactional protocol for inserting a test
// run while deduplicating the TestBlueprint/TestRunBlueprint graph it
// belongs to.
package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/electron/ventifact/blueprint"
	"github.com/electron/ventifact/errs"
	"github.com/electron/ventifact/internal/dbretry"
	"github.com/electron/ventifact/internal/skerr"
	"github.com/electron/ventifact/internal/sklog"
	"github.com/electron/ventifact/resultspec"
	"github.com/electron/ventifact/store/schema"
)

// TestResult is one (title, passed) pair from a run, in the order the run
// reported it.
type TestResult struct {
	Title  string
	Passed bool
}

// Run is the input to InsertTestRun: an execution instance from an external
// CI source, identified by (Source, ExtID).
type Run struct {
	Source    schema.Source
	ExtID     int32
	Results   []TestResult
	Timestamp time.Time
	Branch    *string
	CommitID  []byte
}

// BlueprintKnower is the optional memoization interface ingest consults
// before upserting TestBlueprint rows. The DB's ON CONFLICT handling is the
// source of truth for correctness; this interface only exists to skip
// redundant upsert attempts, so implementations must treat a cache miss or
// error as "unknown" and never suppress the upsert on that basis. See
// package cache.
type BlueprintKnower interface {
	// KnownTestBlueprints returns the subset of ids that are believed to
	// already exist. A false negative (omitting a known id) only costs an
	// extra no-op upsert; a false positive would violate referential
	// closure, so implementations must never report an id as known unless
	// they are certain it was durably written.
	KnownTestBlueprints(ctx context.Context, ids []int64) (map[int64]bool, error)
	// RecordTestBlueprints marks ids as known after a successful commit.
	RecordTestBlueprints(ctx context.Context, ids []int64)
}

// Store implements InsertTestRun against a pgx connection pool.
type Store struct {
	db    *pgxpool.Pool
	cache BlueprintKnower // optional; nil disables memoization
}

// New returns a Store backed by db. cache may be nil.
func New(db *pgxpool.Pool, cache BlueprintKnower) *Store {
	return &Store{db: db, cache: cache}
}

// InsertTestRun derives the blueprint ids for run, upserts the
// TestBlueprint and TestRunBlueprint rows they belong to, encodes the
// result spec, and inserts the TestRun row, all in a single transaction.
// It is idempotent: calling it twice with the same run leaves the database
// in the same state as calling it once, since every insert is an
// ON CONFLICT DO NOTHING keyed on the run's natural identity.
func (s *Store) InsertTestRun(ctx context.Context, run Run) error {
	if err := validate(run); err != nil {
		return err
	}

	ids := make([]int64, len(run.Results))
	for i, r := range run.Results {
		ids[i] = blueprint.TestID(r.Title)
	}
	runBlueprintID := blueprint.TestRunID(ids)

	results := make([]resultspec.Result, len(run.Results))
	for i, r := range run.Results {
		results[i] = resultspec.Result{TestID: ids[i], Passed: r.Passed}
	}
	resultSpec := resultspec.Encode(results)

	titleByID := make(map[int64]string, len(ids))
	for i, id := range ids {
		titleByID[id] = run.Results[i].Title
	}

	toUpsert := s.filterKnown(ctx, titleByID)

	err := dbretry.Do(ctx, func(ctx context.Context) error {
		return crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if err := upsertTestBlueprints(ctx, tx, toUpsert); err != nil {
				return err // don't wrap: crdbpgx may retry on the raw error
			}
			if err := upsertTestRunBlueprint(ctx, tx, runBlueprintID, blueprint.SortedMembers(ids)); err != nil {
				return err
			}
			if err := insertTestRun(ctx, tx, run, runBlueprintID, resultSpec); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return errs.New(errs.OfError(err), skerr.Wrap(err))
	}

	if s.cache != nil {
		s.cache.RecordTestBlueprints(ctx, ids)
	}
	return nil
}

// filterKnown asks the cache (if any) which candidate blueprints are
// already known and returns only the ones that still need an upsert
// attempt.
func (s *Store) filterKnown(ctx context.Context, titleByID map[int64]string) map[int64]string {
	if s.cache == nil {
		return titleByID
	}
	ids := make([]int64, 0, len(titleByID))
	for id := range titleByID {
		ids = append(ids, id)
	}
	known, err := s.cache.KnownTestBlueprints(ctx, ids)
	if err != nil {
		sklog.Warningf("blueprint cache lookup failed, upserting all %d candidates: %s", len(ids), err)
		return titleByID
	}
	out := make(map[int64]string, len(titleByID))
	for id, title := range titleByID {
		if !known[id] {
			out[id] = title
		}
	}
	return out
}

func upsertTestBlueprints(ctx context.Context, tx pgx.Tx, titleByID map[int64]string) error {
	if len(titleByID) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, title := range titleByID {
		batch.Queue(`INSERT INTO test_blueprints (id, title) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`, id, title)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func upsertTestRunBlueprint(ctx context.Context, tx pgx.Tx, id int64, sortedMembers []int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO test_run_blueprints (id, test_blueprint_ids) VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING`, id, sortedMembers)
	return err
}

func insertTestRun(ctx context.Context, tx pgx.Tx, run Run, blueprintID int64, resultSpec []byte) error {
	_, err := tx.Exec(ctx, `INSERT INTO test_runs (source, ext_id, blueprint_id, timestamp, branch, commit_id, result_spec)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source, ext_id) DO NOTHING`,
		run.Source, run.ExtID, blueprintID, run.Timestamp, run.Branch, run.CommitID, resultSpec)
	return err
}

func validate(run Run) error {
	if len(run.Results) == 0 {
		return errs.New(errs.ExternalInput, errNoResults)
	}
	if run.Timestamp.IsZero() {
		return errs.New(errs.ExternalInput, errZeroTimestamp)
	}
	if len(run.CommitID) == 0 {
		return errs.New(errs.ExternalInput, errNoCommitID)
	}
	for _, r := range run.Results {
		if r.Title == "" {
			return errs.New(errs.ExternalInput, errEmptyTitle)
		}
	}
	return nil
}
