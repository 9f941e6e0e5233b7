// Package blueprint computes the content-addressed 64-bit ids used to
// identify a single test ("TestBlueprint") and a set of tests
// ("TestRunBlueprint"). Both ids are derived with SHAKE256, truncated to 8
// bytes and read big-endian as a signed int64.
package blueprint

import (
	"encoding/binary"
	"sort"

	"golang.org/x/crypto/sha3"
)

// digestSize is the number of bytes read from the SHAKE256 XOF output.
const digestSize = 8

// digest runs the SHAKE256 XOF over data and truncates the output to
// digestSize bytes, returning it as a signed big-endian int64. The high bit
// of the first byte becomes the sign bit, so the result can be negative;
// callers that need a stable sort order over the raw bytes should use
// lessUnsigned rather than Go's native int64 comparison.
func digest(data []byte) int64 {
	h := sha3.NewShake256()
	_, _ = h.Write(data) // hash.Hash.Write never returns an error
	var out [digestSize]byte
	_, _ = h.Read(out[:])
	return int64(binary.BigEndian.Uint64(out[:]))
}

// TestID computes the TestBlueprint.id for a test with the given title:
// H(UTF-8 bytes of title).
func TestID(title string) int64 {
	return digest([]byte(title))
}

// TestRunID computes the TestRunBlueprint.id for a set of member test ids:
// H(concat(sort(members))). The input slice is not mutated; SortedMembers
// should be used when the caller also needs the canonical member ordering
// that is persisted alongside the id.
func TestRunID(memberIDs []int64) int64 {
	return digest(concatSorted(memberIDs))
}

// SortedMembers returns memberIDs sorted by unsigned lexicographic order of
// their raw big-endian bytes, which is not the same as numeric order once
// interpreted as a signed int64. Duplicate ids are preserved: a run that
// reports the same title twice contributes that multiplicity to the digest
// rather than collapsing to a set.
func SortedMembers(memberIDs []int64) []int64 {
	out := make([]int64, len(memberIDs))
	copy(out, memberIDs)
	sort.Slice(out, func(i, j int) bool {
		return lessUnsigned(out[i], out[j])
	})
	return out
}

// lessUnsigned compares two ids as their raw 8 big-endian bytes would sort,
// i.e. as unsigned 64-bit integers rather than as Go's signed int64.
func lessUnsigned(a, b int64) bool {
	return uint64(a) < uint64(b)
}

// concatSorted sorts memberIDs (unsigned byte order) and concatenates their
// raw 8-byte big-endian representations, the exact preimage hashed for a
// TestRunBlueprint id.
func concatSorted(memberIDs []int64) []byte {
	sorted := SortedMembers(memberIDs)
	buf := make([]byte, digestSize*len(sorted))
	for i, id := range sorted {
		binary.BigEndian.PutUint64(buf[i*digestSize:], uint64(id))
	}
	return buf
}
