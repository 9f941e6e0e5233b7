package ingest

import "errors"

var (
	errNoResults     = errors.New("test run has no results")
	errZeroTimestamp = errors.New("test run has a zero timestamp")
	errNoCommitID    = errors.New("test run is missing a commit id")
	errEmptyTitle    = errors.New("test run has a result with an empty title")
)
