package blueprint

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTestID_Deterministic(t *testing.T) {
	a := TestID("TestFoo/Bar")
	b := TestID("TestFoo/Bar")
	require.Equal(t, a, b)
}

func TestTestID_DifferentTitlesDifferentIDs(t *testing.T) {
	require.NotEqual(t, TestID("a"), TestID("b"))
}

func TestTestRunID_PermutationInvariant(t *testing.T) {
	members := []int64{TestID("a"), TestID("b"), TestID("c"), TestID("d")}

	want := TestRunID(members)

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]int64{}, members...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, TestRunID(shuffled))
	}
}

func TestTestRunID_DuplicatesAffectDigest(t *testing.T) {
	a := TestID("a")
	b := TestID("b")

	withoutDup := TestRunID([]int64{a, b})
	withDup := TestRunID([]int64{a, a, b})

	require.NotEqual(t, withoutDup, withDup)
}

func TestSortedMembers_UnsignedByteOrder(t *testing.T) {
	// -1 as int64 has all bits set, so as unsigned bytes it is the maximum
	// value and must sort after 0 and 1, even though numerically -1 < 0 < 1.
	in := []int64{-1, 0, 1}
	got := SortedMembers(in)
	require.Equal(t, []int64{0, 1, -1}, got)
}

func TestSortedMembers_DoesNotMutateInput(t *testing.T) {
	in := []int64{5, 3, 1}
	_ = SortedMembers(in)
	require.Equal(t, []int64{5, 3, 1}, in)
}
