package grouping

import (
	"errors"
	"sort"
	"testing"

	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func rec(ncm, entry, exit, bookkeeping string) types.RawRecord {
	return types.RawRecord{
		ClassificationCode: ncm,
		EntryCode:          entry,
		ExitCode:           exit,
		BookkeepingCode:    bookkeeping,
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		entry string
		want  string
	}{
		{"73", "ALIQUOTA ZERO"},
		{"70", "MONOFASICO"},
		{"50", "TRIBUTADO"},
		{"01", "CST 01"},
		{"", "CST "},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(nil, tt.entry))
	}

	assert.Equal(t, "ISENTO", Label(map[string]string{"07": "ISENTO"}, "07"))
	assert.Equal(t, "CST 73", Label(map[string]string{"07": "ISENTO"}, "73"))
}

func TestGroup_DuplicateCodesCollapse(t *testing.T) {
	groups, err := Group([]types.RawRecord{
		rec("123456", "73", "06", "X"),
		rec("123456", "73", "06", "X"),
	}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, types.GroupKey{EntryCode: "73", BookkeepingCode: "X"}, groups[0].Key)
	assert.Equal(t, []string{"123456"}, groups[0].Members)
	assert.Equal(t, "ALIQUOTA ZERO - X", groups[0].Title())
}

func TestGroup_FirstSeenOrder(t *testing.T) {
	records := []types.RawRecord{
		rec("3", "50", "01", "B"),
		rec("1", "73", "06", "A"),
		rec("2", "50", "01", "A"),
		rec("9", "73", "06", "C"),
		rec("4", "50", "01", "B"),
	}

	groups, err := Group(records, Options{})
	require.NoError(t, err)

	var keys []types.GroupKey
	for _, g := range groups {
		keys = append(keys, g.Key)
	}
	assert.Equal(t, []types.GroupKey{
		{EntryCode: "50", BookkeepingCode: "B"},
		{EntryCode: "50", BookkeepingCode: "A"},
		{EntryCode: "73", BookkeepingCode: "A"},
		{EntryCode: "73", BookkeepingCode: "C"},
	}, keys)
	assert.Equal(t, []string{"3", "4"}, groups[0].Members)
}

func TestGroup_IsPartition(t *testing.T) {
	records := []types.RawRecord{
		rec("22021000", "50", "01", "101"),
		rec("10063021", "73", "06", "101"),
		rec("04012010", "73", "06", "205"),
		rec("22021000", "50", "01", "101"),
		rec("33051000", "70", "04", "300"),
		rec("10063021", "73", "06", "205"),
		rec("01012100", "50", "01", "999"),
	}

	groups, err := Group(records, Options{})
	require.NoError(t, err)

	// Every record belongs to exactly one group.
	index := Lookup(groups)
	assert.Len(t, index, len(groups))
	for _, r := range records {
		g, ok := index[types.GroupKey{EntryCode: r.EntryCode, BookkeepingCode: r.BookkeepingCode}]
		require.True(t, ok)
		assert.Contains(t, g.Members, r.ClassificationCode)
	}

	// Union of members per entry code equals the codes seen for that entry code.
	want := map[string]map[string]bool{}
	for _, r := range records {
		if want[r.EntryCode] == nil {
			want[r.EntryCode] = map[string]bool{}
		}
		want[r.EntryCode][r.ClassificationCode] = true
	}
	got := map[string]map[string]bool{}
	for _, g := range groups {
		if got[g.Key.EntryCode] == nil {
			got[g.Key.EntryCode] = map[string]bool{}
		}
		for _, m := range g.Members {
			got[g.Key.EntryCode][m] = true
		}
	}
	assert.Equal(t, want, got)

	// Members are duplicate free and ascending.
	for _, g := range groups {
		assert.True(t, sort.StringsAreSorted(g.Members), g.Title())
		seen := map[string]bool{}
		for _, m := range g.Members {
			assert.False(t, seen[m], "duplicate %s in %s", m, g.Title())
			seen[m] = true
		}
	}
}

func TestGroup_ExitCodes(t *testing.T) {
	records := []types.RawRecord{
		rec("1", "73", "06", "X"),
		rec("2", "73", "07", "X"),
	}

	groups, err := Group(records, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	assert.Equal(t, "06", groups[0].ExitCode)

	_, err = Group(records, Options{StrictExitCodes: true})
	var conflict *types.ExitCodeConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"06", "07"}, conflict.ExitCodes)
	assert.Equal(t, "73", conflict.Key.EntryCode)
}

func TestGroup_Progress(t *testing.T) {
	var reported []float64
	_, err := Group([]types.RawRecord{
		rec("1", "73", "06", "X"),
		rec("2", "50", "01", "X"),
		rec("3", "70", "04", "Y"),
		rec("4", "73", "06", "Z"),
	}, Options{Progress: func(f float64) { reported = append(reported, f) }})
	require.NoError(t, err)

	require.Len(t, reported, 3)
	assert.InDelta(t, 0.1, reported[0], 1e-9)
	assert.InDelta(t, 0.2, reported[1], 1e-9)
	assert.InDelta(t, ProgressShare, reported[2], 1e-9)
}

func TestGroup_BlankCodesAreNotMembers(t *testing.T) {
	groups, err := Group([]types.RawRecord{
		rec("", "73", "06", "X"),
		rec("123456", "73", "06", "X"),
		rec("", "50", "01", "Y"),
	}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"123456"}, groups[0].Members)
	assert.Equal(t, "50", groups[1].Key.EntryCode)
	assert.Equal(t, "01", groups[1].ExitCode)
	assert.NotNil(t, groups[1].Members)
	assert.Empty(t, groups[1].Members)
}

func TestGroup_Empty(t *testing.T) {
	groups, err := Group(nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSortedMembers(t *testing.T) {
	got := SortedMembers([]types.RawRecord{
		{ClassificationCode: "b"},
		{ClassificationCode: "a"},
		{ClassificationCode: "b"},
		{ClassificationCode: "10"},
		{ClassificationCode: "9"},
		{ClassificationCode: ""},
	})
	assert.Equal(t, []string{"10", "9", "a", "b"}, got)
}
