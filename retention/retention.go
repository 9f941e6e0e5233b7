// Package retention implements the core's garbage-collection pass: delete
// expired runs, then collect the TestBlueprint/TestRunBlueprint rows they
// leave orphaned. It also ages out merged PR rows on their own, independent
// window.
package retention

import (
	"context"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/electron/ventifact/errs"
	"github.com/electron/ventifact/internal/dbretry"
	"github.com/electron/ventifact/internal/skerr"
	"github.com/electron/ventifact/internal/sklog"
)

// Store implements PurgeRunsBefore against a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// New returns a Store backed by db.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// PurgeRunsBefore deletes every TestRun (and cascading TestFlake) with
// timestamp < cutoff, then deletes any TestRunBlueprint and TestBlueprint
// rows that become unreferenced as a result. It returns the number of
// TestRun rows deleted. Running it again on an unchanged database is a
// no-op.
//
// The whole pass runs in one transaction. Between candidate collection and
// the final deletes, candidate TestRunBlueprint rows are re-locked with
// SELECT ... FOR UPDATE and re-checked for new references, so a concurrent
// InsertTestRun that lands on a candidate blueprint between steps cannot
// produce an orphan invariant violation under read-committed isolation.
func (s *Store) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := dbretry.Do(ctx, func(ctx context.Context) error {
		return crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var err error
			deleted, err = purge(ctx, tx, cutoff)
			return err // don't wrap: crdbpgx may retry on the raw error
		})
	})
	if err != nil {
		return 0, errs.New(errs.OfError(err), skerr.Wrap(err))
	}
	return deleted, nil
}

func purge(ctx context.Context, tx pgx.Tx, cutoff time.Time) (int, error) {
	candidates, err := collectCandidates(ctx, tx, cutoff)
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
DELETE FROM test_flakes WHERE (test_run_source, test_run_ext_id) IN (
	SELECT source, ext_id FROM test_runs WHERE timestamp < $1
)`, cutoff); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM test_runs WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	deleted := int(tag.RowsAffected())

	confirmed, err := confirmOrphaned(ctx, tx, candidates)
	if err != nil {
		return 0, err
	}
	if len(confirmed) == 0 {
		return deleted, nil
	}

	orphanedTests, err := collectOrphanedTestBlueprints(ctx, tx, confirmed)
	if err != nil {
		return 0, err
	}

	if len(orphanedTests) > 0 {
		ids := make([]int64, 0, len(orphanedTests))
		for id := range orphanedTests {
			ids = append(ids, id)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM test_blueprints WHERE id = ANY($1)`, ids); err != nil {
			return 0, err
		}
	}

	candidateIDs := make([]int64, 0, len(confirmed))
	for id := range confirmed {
		candidateIDs = append(candidateIDs, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM test_run_blueprints WHERE id = ANY($1)`, candidateIDs); err != nil {
		return 0, err
	}

	return deleted, nil
}

// PurgePRsBefore deletes every PR row with merged_at < cutoff. PR rows
// never participate in the TestBlueprint/TestRunBlueprint dedup graph, so
// this is a single unconditional delete with no orphan bookkeeping. It
// returns the number of rows deleted.
func (s *Store) PurgePRsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := dbretry.Do(ctx, func(ctx context.Context) error {
		return crdbpgx.ExecuteTx(ctx, s.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `DELETE FROM prs WHERE merged_at < $1`, cutoff)
			if err != nil {
				return err // don't wrap: crdbpgx may retry on the raw error
			}
			deleted = int(tag.RowsAffected())
			return nil
		})
	})
	if err != nil {
		return 0, errs.New(errs.OfError(err), skerr.Wrap(err))
	}
	return deleted, nil
}

// candidate is a TestRunBlueprint that would become orphaned if every
// TestRun with timestamp < cutoff is deleted.
type candidate struct {
	id      int64
	members []int64
}

// collectCandidates finds every TestRunBlueprint whose referencing TestRun
// rows all have timestamp < cutoff.
func collectCandidates(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]candidate, error) {
	rows, err := tx.Query(ctx, `
SELECT trb.id, trb.test_blueprint_ids FROM test_run_blueprints trb
WHERE NOT EXISTS (
	SELECT 1 FROM test_runs tr WHERE tr.blueprint_id = trb.id AND tr.timestamp >= $1
)`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.members); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// confirmOrphaned re-locks the candidate rows with FOR UPDATE and drops any
// that have since gained a reference (e.g. a concurrent InsertTestRun that
// landed between collectCandidates and here), returning the confirmed
// orphan set keyed by id with its member list preserved.
func confirmOrphaned(ctx context.Context, tx pgx.Tx, candidates []candidate) (map[int64][]int64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(candidates))
	byID := make(map[int64][]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
		byID[c.id] = c.members
	}

	rows, err := tx.Query(ctx, `
SELECT id FROM test_run_blueprints
WHERE id = ANY($1) AND NOT EXISTS (
	SELECT 1 FROM test_runs WHERE test_runs.blueprint_id = test_run_blueprints.id
)
FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	confirmed := make(map[int64][]int64, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		confirmed[id] = byID[id]
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(confirmed) < len(candidates) {
		sklog.Infof("retention: %d of %d candidate test-run blueprints gained a reference before commit; skipping them this pass",
			len(candidates)-len(confirmed), len(candidates))
	}
	return confirmed, nil
}

// collectOrphanedTestBlueprints computes S, the set of TestBlueprint ids
// referenced only by the confirmed-orphaned TestRunBlueprints, by streaming
// every surviving TestRunBlueprint and subtracting its members from S. The
// scan stops as soon as S is empty.
func collectOrphanedTestBlueprints(ctx context.Context, tx pgx.Tx, confirmed map[int64][]int64) (map[int64]bool, error) {
	s := make(map[int64]bool)
	for _, members := range confirmed {
		for _, m := range members {
			s[m] = true
		}
	}
	if len(s) == 0 {
		return s, nil
	}

	confirmedIDs := make([]int64, 0, len(confirmed))
	for id := range confirmed {
		confirmedIDs = append(confirmedIDs, id)
	}

	rows, err := tx.Query(ctx, `
SELECT test_blueprint_ids FROM test_run_blueprints
WHERE id != ALL($1)`, confirmedIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		if len(s) == 0 {
			break // early termination: nothing left to subtract
		}
		var members []int64
		if err := rows.Scan(&members); err != nil {
			return nil, err
		}
		for _, m := range members {
			delete(s, m)
		}
	}
	return s, rows.Err()
}
