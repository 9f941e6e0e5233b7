// Package resultspec implements a compact variant-tagged encoding of a test
// run's pass/fail vector. It exploits the near-universal pass rate of CI
// runs by enumerating only the minority outcome; an all-pass run encodes to
// nil, which is persisted as SQL NULL.
package resultspec

import (
	"encoding/binary"

	"github.com/electron/ventifact/errs"
	"github.com/electron/ventifact/internal/skerr"
)

const idSize = 8

// variant tag values, stored in byte 0 of a non-absent payload.
const (
	variantFailures byte = 0 // the enumerated ids are the tests that failed
	variantPasses   byte = 1 // the enumerated ids are the tests that passed
)

// Result is one test's outcome within a run, in the order it appeared in
// the input. TestID is the blueprint.TestID of its title.
type Result struct {
	TestID int64
	Passed bool
}

// Encode produces the binary result_spec payload for results, or nil if
// every result passed (the "absent" sentinel, persisted as SQL NULL).
func Encode(results []Result) []byte {
	n := len(results)
	failed := 0
	for _, r := range results {
		if !r.Passed {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	passed := n - failed

	enumeratePasses := passed < n-passed // p < f, i.e. p < n/2
	variant := variantFailures
	if enumeratePasses {
		variant = variantPasses
	}

	k := failed
	if enumeratePasses {
		k = passed
	}

	out := make([]byte, 1+idSize*k)
	out[0] = variant
	i := 0
	for _, r := range results {
		if r.Passed == enumeratePasses {
			binary.BigEndian.PutUint64(out[1+i*idSize:], uint64(r.TestID))
			i++
		}
	}
	return out
}

// Decode reconstructs the pass/fail outcome of every member of a
// TestRunBlueprint given the stored payload (nil meaning all-pass) and the
// blueprint's canonical member list. It returns an error of kind
// errs.CorruptPayload if payload's length is not of the form 1+8k.
func Decode(payload []byte, members []int64) (map[int64]bool, error) {
	outcomes := make(map[int64]bool, len(members))
	if payload == nil {
		for _, m := range members {
			outcomes[m] = true
		}
		return outcomes, nil
	}

	if len(payload) < 1 || (len(payload)-1)%idSize != 0 {
		return nil, errs.New(errs.CorruptPayload, skerr.Fmt(
			"result_spec has invalid length %d: must be 1+8k", len(payload)))
	}

	variant := payload[0]
	enumerated := make(map[int64]bool, (len(payload)-1)/idSize)
	for off := 1; off < len(payload); off += idSize {
		id := int64(binary.BigEndian.Uint64(payload[off : off+idSize]))
		enumerated[id] = true
	}

	for _, m := range members {
		inSet := enumerated[m]
		var passed bool
		if variant == variantPasses {
			passed = inSet
		} else {
			passed = !inSet
		}
		outcomes[m] = passed
	}
	return outcomes, nil
}
