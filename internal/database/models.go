package database

import "github.com/TobiSchelling/AIAnalyst/internal/report"

// Run is a stored analysis run with its report serialised as JSON.
type Run struct {
	ID           string
	ProjectName  string
	DatasetName  string
	Status       string
	ReviewMode   string
	ChunkCount   int
	ResultCount  int
	FailureCount int
	FlaggedCount int
	GeneratedAt  string
	ReportJSON   []byte
}

// Report decodes the stored report.
func (r *Run) Report() (*report.Report, error) {
	return report.Decode(r.ReportJSON)
}

// ShortID is the id prefix shown in listings.
func (r *Run) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// Export records a report file written to disk.
type Export struct {
	ID        int64
	RunID     string
	Format    string
	Path      string
	CreatedAt *string
}

// EntryFeedback is a reader's rating of one report entry.
type EntryFeedback struct {
	RunID     string
	ResultID  string
	Rating    string // "useful" or "not_useful"
	CreatedAt *string
}

// Stats holds aggregate database statistics.
type Stats struct {
	Runs          int
	CompleteRuns  int
	PartialRuns   int
	CancelledRuns int
	Results       int
	Failures      int
	Exports       int
	Feedback      int
}
