// Package chunk partitions a dataset into contiguous pieces that fit a prompt budget.
package chunk

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/TobiSchelling/AIAnalyst/internal/dataset"
)

// charsPerToken is the heuristic used to estimate prompt size.
const charsPerToken = 4

// Budget bounds a chunk. Zero disables a bound; at least one must be positive.
type Budget struct {
	MaxRows   int
	MaxTokens int
}

// Chunk is the half-open row range [Start, End) of its source dataset.
type Chunk struct {
	Index  int
	Start  int
	End    int
	Tokens int

	source *dataset.Dataset
}

// Len returns the number of rows in the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// Dataset returns the dataset the chunk was cut from.
func (c Chunk) Dataset() *dataset.Dataset { return c.source }

// Rows returns copies of the chunk's rows.
func (c Chunk) Rows() [][]any { return c.source.Rows(c.Start, c.End) }

// Text renders the chunk as CSV with a header line, the form personas receive.
func (c Chunk) Text() string {
	lines := make([]string, 0, c.Len()+1)
	lines = append(lines, formatRecord(c.source.Header()))
	for i := c.Start; i < c.End; i++ {
		lines = append(lines, rowLine(c.source.Row(i)))
	}
	return strings.Join(lines, "\n")
}

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// Split partitions ds into chunks in row order. Every row lands in exactly one
// chunk, no chunk exceeds the budget and the last chunk may be short.
func Split(ds *dataset.Dataset, b Budget) ([]Chunk, error) {
	if b.MaxRows <= 0 && b.MaxTokens <= 0 {
		return nil, fmt.Errorf("chunk budget needs a positive row or token limit")
	}
	if ds == nil || ds.Len() == 0 {
		name := ""
		if ds != nil {
			name = ds.Name()
		}
		return nil, &dataset.InvalidDatasetError{Dataset: name, Reason: "dataset is empty"}
	}

	headerTokens := EstimateTokens(formatRecord(ds.Header()))
	if b.MaxTokens > 0 && headerTokens > b.MaxTokens {
		return nil, &dataset.InvalidDatasetError{
			Dataset: ds.Name(),
			Reason:  fmt.Sprintf("header alone needs ~%d tokens, budget is %d", headerTokens, b.MaxTokens),
		}
	}

	var chunks []Chunk
	start, tokens := 0, headerTokens
	for i := 0; i < ds.Len(); i++ {
		rowTokens := EstimateTokens(rowLine(ds.Row(i)) + "\n")
		if b.MaxTokens > 0 && headerTokens+rowTokens > b.MaxTokens {
			return nil, &dataset.InvalidDatasetError{
				Dataset: ds.Name(),
				Reason:  fmt.Sprintf("row %d alone needs ~%d tokens, budget is %d", i+1, headerTokens+rowTokens, b.MaxTokens),
			}
		}

		rows := i - start
		full := (b.MaxRows > 0 && rows >= b.MaxRows) ||
			(b.MaxTokens > 0 && tokens+rowTokens > b.MaxTokens)
		if full {
			chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: i, Tokens: tokens, source: ds})
			start, tokens = i, headerTokens
		}
		tokens += rowTokens
	}
	chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: ds.Len(), Tokens: tokens, source: ds})

	return chunks, nil
}

func rowLine(row []any) string {
	fields := make([]string, len(row))
	for i, v := range row {
		fields[i] = dataset.FormatValue(v)
	}
	return formatRecord(fields)
}

func formatRecord(fields []string) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write(fields)
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
