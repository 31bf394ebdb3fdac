package chunk

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
)

func makeDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{i, fmt.Sprintf("row-%03d", i)}
	}
	ds, err := dataset.New("test", []string{"id", "label"}, rows)
	require.NoError(t, err)
	return ds
}

// concatenated returns the rows of all chunks in chunk order.
func concatenated(chunks []Chunk) [][]any {
	var out [][]any
	for _, c := range chunks {
		out = append(out, c.Rows()...)
	}
	return out
}

func TestSplitPartitionPreservesOrder(t *testing.T) {
	for _, size := range []int{1, 2, 9, 10, 11, 57} {
		for _, budget := range []Budget{{MaxRows: 1}, {MaxRows: 3}, {MaxRows: 10}, {MaxTokens: 20}, {MaxRows: 4, MaxTokens: 15}} {
			t.Run(fmt.Sprintf("n=%d/%+v", size, budget), func(t *testing.T) {
				ds := makeDataset(t, size)
				chunks, err := Split(ds, budget)
				require.NoError(t, err)

				assert.Equal(t, ds.Rows(0, ds.Len()), concatenated(chunks))
				for i, c := range chunks {
					assert.Equal(t, i, c.Index)
					assert.Positive(t, c.Len())
					if i > 0 {
						assert.Equal(t, chunks[i-1].End, c.Start, "chunks must be contiguous")
					}
				}
			})
		}
	}
}

func TestSplitRespectsRowBudget(t *testing.T) {
	const budget = 5
	tests := []struct {
		rows       int
		wantChunks []int
	}{
		{rows: 1, wantChunks: []int{1}},
		{rows: budget, wantChunks: []int{5}},
		{rows: budget + 1, wantChunks: []int{5, 1}},
		{rows: 12, wantChunks: []int{5, 5, 2}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("rows=%d", tt.rows), func(t *testing.T) {
			chunks, err := Split(makeDataset(t, tt.rows), Budget{MaxRows: budget})
			require.NoError(t, err)

			var sizes []int
			for _, c := range chunks {
				assert.LessOrEqual(t, c.Len(), budget)
				sizes = append(sizes, c.Len())
			}
			assert.Equal(t, tt.wantChunks, sizes)
		})
	}
}

func TestSplitRespectsTokenBudget(t *testing.T) {
	ds := makeDataset(t, 40)
	const budget = 25
	chunks, err := Split(ds, Budget{MaxTokens: budget})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, c.Tokens, budget)
		assert.LessOrEqual(t, EstimateTokens(c.Text()), c.Tokens, "estimate of rendered text never exceeds the accounted size")
	}
}

func TestSplitEmptyDataset(t *testing.T) {
	_, err := Split(nil, Budget{MaxRows: 10})
	var invalidErr *dataset.InvalidDatasetError
	require.True(t, errors.As(err, &invalidErr))
}

func TestSplitRowLargerThanTokenBudget(t *testing.T) {
	ds, err := dataset.New("wide", []string{"text"}, [][]any{{"short"}, {strings.Repeat("x", 400)}})
	require.NoError(t, err)

	_, err = Split(ds, Budget{MaxTokens: 20})
	var invalidErr *dataset.InvalidDatasetError
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Reason, "row 2")
}

func TestSplitRequiresBudget(t *testing.T) {
	_, err := Split(makeDataset(t, 3), Budget{})
	require.Error(t, err)
}

func TestSplitDoesNotMutateDataset(t *testing.T) {
	ds := makeDataset(t, 7)
	before := ds.Rows(0, ds.Len())

	chunks, err := Split(ds, Budget{MaxRows: 2})
	require.NoError(t, err)
	rows := chunks[0].Rows()
	rows[0][1] = "changed"

	assert.Equal(t, before, ds.Rows(0, ds.Len()))
}

func TestChunkText(t *testing.T) {
	ds, err := dataset.New("t", []string{"name", "note"}, [][]any{{"a", "has, comma"}, {"b", nil}})
	require.NoError(t, err)
	chunks, err := Split(ds, Budget{MaxRows: 10})
	require.NoError(t, err)

	assert.Equal(t, "name,note\na,\"has, comma\"\nb,", chunks[0].Text())
}
