package resultspec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/electron/ventifact/blueprint"
	"github.com/electron/ventifact/errs"
)

func ids(titles ...string) []int64 {
	out := make([]int64, len(titles))
	for i, t := range titles {
		out[i] = blueprint.TestID(t)
	}
	return out
}

func TestEncode_AllPass_Absent(t *testing.T) {
	results := []Result{
		{TestID: blueprint.TestID("boot"), Passed: true},
		{TestID: blueprint.TestID("ipc"), Passed: true},
		{TestID: blueprint.TestID("ui"), Passed: true},
	}
	require.Nil(t, Encode(results))
}

func TestEncode_MinorityFailure_EncodesFailures(t *testing.T) {
	a, b := blueprint.TestID("a"), blueprint.TestID("b")
	results := []Result{
		{TestID: a, Passed: true},
		{TestID: a, Passed: true},
		{TestID: a, Passed: true},
		{TestID: b, Passed: false},
	}
	got := Encode(results)
	require.Equal(t, variantFailures, got[0])
	require.Len(t, got, 1+idSize)
}

func TestEncode_MajorityFailure_EncodesPasses(t *testing.T) {
	a, b := blueprint.TestID("a"), blueprint.TestID("b")
	results := []Result{
		{TestID: a, Passed: false},
		{TestID: a, Passed: false},
		{TestID: a, Passed: false},
		{TestID: b, Passed: true},
	}
	got := Encode(results)
	require.Equal(t, variantPasses, got[0])
	require.Len(t, got, 1+idSize)
}

func TestDecode_Absent_AllPass(t *testing.T) {
	members := ids("a", "b", "c")
	outcomes, err := Decode(nil, members)
	require.NoError(t, err)
	for _, m := range members {
		require.True(t, outcomes[m])
	}
}

func TestRoundTrip(t *testing.T) {
	titles := []string{"a", "b", "c", "d", "e"}
	members := ids(titles...)

	cases := [][]bool{
		{true, true, true, true, true},
		{true, true, true, true, false},
		{false, false, false, true, true},
		{false, false, false, false, false},
	}
	for _, passes := range cases {
		var results []Result
		for i, t := range titles {
			results = append(results, Result{TestID: blueprint.TestID(t), Passed: passes[i]})
		}
		payload := Encode(results)
		outcomes, err := Decode(payload, members)
		require.NoError(t, err)
		for i, m := range members {
			require.Equal(t, passes[i], outcomes[m], "title %s", titles[i])
		}
	}
}

func TestDecode_CorruptPayload(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02}, ids("a"))
	require.Error(t, err)
	require.Equal(t, errs.CorruptPayload, errs.OfError(err))
}
