// Package flake implements the windowed per-(blueprint, commit) diff that
// detects flaky results: a rerun whose result_spec differs from the
// immediately-previous run sharing the same blueprint and commit.
package flake

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/electron/ventifact/errs"
	"github.com/electron/ventifact/internal/skerr"
	"github.com/electron/ventifact/internal/sklog"
	"github.com/electron/ventifact/resultspec"
	"github.com/electron/ventifact/store/schema"
)

// Store implements MarkFlakesSince against a pgx connection pool.
type Store struct {
	db *pgxpool.Pool
}

// New returns a Store backed by db.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// runRef identifies a TestRun by its composite primary key.
type runRef struct {
	source schema.Source
	extID  int32
}

// flakeKey identifies a single TestFlake row by its composite primary key.
type flakeKey struct {
	ref    runRef
	testID int64
}

// rerunRow is one flake-relevant rerun as produced by the windowed query:
// its own result_spec and identity, the identity and result_spec of the
// immediately-previous run in its (blueprint, commit) partition, and the
// shared member list needed to decode both.
type rerunRow struct {
	current      runRef
	currentSpec  []byte
	previous     runRef
	previousSpec []byte
	members      []int64
}

// MarkFlakesSince finds every rerun with timestamp > watermark whose
// result_spec differs from the previous run sharing its (blueprint_id,
// commit_id), decodes both, and inserts one TestFlake row per test whose
// outcome flipped, attributed to the run where that test failed. It
// returns the number of newly inserted flake rows. Reprocessing the same
// window is idempotent because insertion is conflict-safe on the flake's
// composite key.
func (s *Store) MarkFlakesSince(ctx context.Context, watermark time.Time) (int, error) {
	rows, err := s.findFlakeRelevantReruns(ctx, watermark)
	if err != nil {
		return 0, errs.New(errs.OfError(err), skerr.Wrap(err))
	}

	flakes := make(map[flakeKey]bool)
	for _, r := range rows {
		currentOutcomes, err := resultspec.Decode(r.currentSpec, r.members)
		if err != nil {
			return 0, err // errs.CorruptPayload, already tagged by resultspec
		}
		previousOutcomes, err := resultspec.Decode(r.previousSpec, r.members)
		if err != nil {
			return 0, err
		}
		for _, m := range r.members {
			curPassed, curOK := currentOutcomes[m]
			prevPassed, prevOK := previousOutcomes[m]
			if !curOK || !prevOK {
				return 0, errs.New(errs.MemberMismatch, skerr.Fmt(
					"member %d missing from decoded outcomes for blueprint shared by run %v and %v", m, r.current, r.previous))
			}
			if curPassed == prevPassed {
				continue
			}
			failingSide := r.current
			if curPassed && !prevPassed {
				failingSide = r.previous
			}
			flakes[flakeKey{ref: failingSide, testID: m}] = true
		}
	}

	if len(flakes) == 0 {
		return 0, nil
	}

	inserted, err := s.insertFlakes(ctx, flakes)
	if err != nil {
		return 0, errs.New(errs.OfError(err), skerr.Wrap(err))
	}
	sklog.Infof("flake detection: inserted %d new flake rows for %d reruns since %s", inserted, len(rows), watermark)
	return inserted, nil
}

// LatestFlakeWatermark returns the timestamp of the most recent TestRun
// referenced by any TestFlake row, and false if no flake has ever been
// recorded. Callers should pass this as MarkFlakesSince's watermark on
// every tick but the first, so each pass only rescans reruns newer than
// the last one it already classified instead of the whole retention
// window.
func (s *Store) LatestFlakeWatermark(ctx context.Context) (time.Time, bool, error) {
	var ts *time.Time
	err := s.db.QueryRow(ctx, `
SELECT max(tr.timestamp) FROM test_flakes tf
JOIN test_runs tr ON tr.source = tf.test_run_source AND tr.ext_id = tf.test_run_ext_id
`).Scan(&ts)
	if err != nil {
		return time.Time{}, false, err
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

func (s *Store) insertFlakes(ctx context.Context, flakes map[flakeKey]bool) (int, error) {
	batch := &pgx.Batch{}
	for k := range flakes {
		batch.Queue(`INSERT INTO test_flakes (test_run_source, test_run_ext_id, test_blueprint_id) VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING`, k.ref.source, k.ref.extID, k.testID)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return 0, err
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// findFlakeRelevantReruns runs a ROW_NUMBER()/LAG() windowed query:
// partition by (blueprint_id, commit_id), order by timestamp ascending
// with ext_id as the tie-break for equal timestamps, and keep every row
// whose within-partition rank is > 1 and whose result_spec is distinct
// from the previous row's.
func (s *Store) findFlakeRelevantReruns(ctx context.Context, watermark time.Time) ([]rerunRow, error) {
	const statement = `
WITH ranked AS (
	SELECT
		source, ext_id, blueprint_id, timestamp, result_spec,
		ROW_NUMBER() OVER (PARTITION BY blueprint_id, commit_id ORDER BY timestamp ASC, ext_id ASC) AS rn,
		LAG(source) OVER (PARTITION BY blueprint_id, commit_id ORDER BY timestamp ASC, ext_id ASC) AS prev_source,
		LAG(ext_id) OVER (PARTITION BY blueprint_id, commit_id ORDER BY timestamp ASC, ext_id ASC) AS prev_ext_id,
		LAG(result_spec) OVER (PARTITION BY blueprint_id, commit_id ORDER BY timestamp ASC, ext_id ASC) AS prev_result_spec
	FROM test_runs
)
SELECT r.source, r.ext_id, r.prev_source, r.prev_ext_id, r.result_spec, r.prev_result_spec, trb.test_blueprint_ids
FROM ranked r
JOIN test_run_blueprints trb ON trb.id = r.blueprint_id
WHERE r.rn > 1
	AND r.timestamp > $1
	AND r.result_spec IS DISTINCT FROM r.prev_result_spec
`
	rows, err := s.db.Query(ctx, statement, watermark)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rerunRow
	for rows.Next() {
		var r rerunRow
		if err := rows.Scan(
			&r.current.source, &r.current.extID,
			&r.previous.source, &r.previous.extID,
			&r.currentSpec, &r.previousSpec,
			&r.members,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
