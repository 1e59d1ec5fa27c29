package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankTiedScoresShareRankAndGapFollows(t *testing.T) {
	placements := Rank([]Standing{
		{ID: "a", Score: 90},
		{ID: "b", Score: 90},
		{ID: "c", Score: 85},
	})
	require.Len(t, placements, 3)
	assert.Equal(t, Placement{ID: "a", Rank: 1, Position: "1st"}, placements[0])
	assert.Equal(t, Placement{ID: "b", Rank: 1, Position: "1st"}, placements[1])
	assert.Equal(t, Placement{ID: "c", Rank: 3, Position: "3rd"}, placements[2])
}

func TestRankSortsDescending(t *testing.T) {
	placements := Rank([]Standing{
		{ID: "low", Score: 41.5},
		{ID: "high", Score: 88},
		{ID: "mid", Score: 70.25},
	})
	require.Len(t, placements, 3)
	assert.Equal(t, "high", placements[0].ID)
	assert.Equal(t, 1, placements[0].Rank)
	assert.Equal(t, "mid", placements[1].ID)
	assert.Equal(t, 2, placements[1].Rank)
	assert.Equal(t, "low", placements[2].ID)
	assert.Equal(t, 3, placements[2].Rank)
}

func TestRankComparesScoresRoundedToTwoDecimals(t *testing.T) {
	// 74.996 rounds to 75.0 and ties with an exact 75; 74.99 stays distinct.
	placements := Rank([]Standing{
		{ID: "exact", Score: 75},
		{ID: "near", Score: 74.996},
		{ID: "below", Score: 74.99},
	})
	require.Len(t, placements, 3)
	assert.Equal(t, 1, placements[0].Rank)
	assert.Equal(t, 1, placements[1].Rank)
	assert.Equal(t, "below", placements[2].ID)
	assert.Equal(t, 3, placements[2].Rank)
}

func TestRankPreservesInputOrderAmongTies(t *testing.T) {
	placements := Rank([]Standing{
		{ID: "first-in", Score: 60},
		{ID: "second-in", Score: 60},
	})
	require.Len(t, placements, 2)
	assert.Equal(t, "first-in", placements[0].ID)
	assert.Equal(t, "second-in", placements[1].ID)
}

func TestRankEmptyInput(t *testing.T) {
	assert.Nil(t, Rank(nil))
	assert.Nil(t, Rank([]Standing{}))
}

func TestRankLeavesInputUntouched(t *testing.T) {
	in := []Standing{{ID: "a", Score: 10}, {ID: "b", Score: 99}}
	Rank(in)
	assert.Equal(t, "a", in[0].ID)
	assert.Equal(t, "b", in[1].ID)
}

func TestOrdinal(t *testing.T) {
	cases := map[int]string{
		1:   "1st",
		2:   "2nd",
		3:   "3rd",
		4:   "4th",
		10:  "10th",
		11:  "11th",
		12:  "12th",
		13:  "13th",
		20:  "20th",
		21:  "21st",
		22:  "22nd",
		23:  "23rd",
		24:  "24th",
		100: "100th",
		101: "101st",
		102: "102nd",
		103: "103rd",
		111: "111th",
		112: "112th",
		113: "113th",
		121: "121st",
	}
	for n, want := range cases {
		assert.Equal(t, want, Ordinal(n), "ordinal of %d", n)
	}
}

func TestRound2UsesBankersRounding(t *testing.T) {
	assert.Equal(t, 0.12, Round2(0.125))
	assert.Equal(t, 0.38, Round2(0.375))
	assert.Equal(t, 85.5, Round2(85.5))
	assert.Equal(t, 70.0, Round2(70))
}
