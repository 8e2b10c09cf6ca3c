package models

import "time"

// CorrelationInput identifies the evidence one correlation run mines:
// the analyzer's output for the implicated window and the moment the
// alert fired. LookbackDays zero means the configured default.
type CorrelationInput struct {
	ProjectID        string               `json:"project_id"`
	Analysis         *TraceAnalysisOutput `json:"analysis"`
	AlertTriggeredAt time.Time            `json:"alert_triggered_at"`
	LookbackDays     int                  `json:"lookback_days,omitempty"`
}

// ScoreBreakdown exposes the individual signals behind a combined
// correlation score. Each signal is in [0, 1].
type ScoreBreakdown struct {
	Temporal  float64 `json:"temporal"`
	Semantic  float64 `json:"semantic"`
	PathMatch float64 `json:"path_match"`
}

// CorrelatedCommit is one commit ranked as a root-cause suspect.
type CorrelatedCommit struct {
	SHA         string         `json:"sha"`
	Message     string         `json:"message"`
	Author      string         `json:"author"`
	CommittedAt time.Time      `json:"committed_at"`
	Score       float64        `json:"score"`
	Signals     ScoreBreakdown `json:"signals"`
	SampleFiles []string       `json:"sample_files,omitempty"`
}

// CorrelatedPR is one merged pull request ranked as a root-cause suspect.
type CorrelatedPR struct {
	Number      int            `json:"number"`
	Title       string         `json:"title"`
	Author      string         `json:"author"`
	MergedAt    time.Time      `json:"merged_at"`
	Score       float64        `json:"score"`
	Signals     ScoreBreakdown `json:"signals"`
	SampleFiles []string       `json:"sample_files,omitempty"`
}

// RelevantCodeChunk is one indexed code fragment returned by semantic
// search, consumed read-only.
type RelevantCodeChunk struct {
	FilePath   string  `json:"file_path"`
	Content    string  `json:"content"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Similarity float64 `json:"similarity"`
}

// CodeCorrelationOutput is the artifact one correlation run produces.
// CommitsAnalyzed and PRsAnalyzed are pre-filter counts so operators
// can tell "nothing correlated" from "nothing in range".
type CodeCorrelationOutput struct {
	HasRepository      bool                `json:"has_repository"`
	SearchQuery        string              `json:"search_query"`
	SearchDegraded     bool                `json:"search_degraded,omitempty"`
	SuspectedCommits   []CorrelatedCommit  `json:"suspected_commits"`
	SuspectedPRs       []CorrelatedPR      `json:"suspected_prs"`
	RelevantCodeChunks []RelevantCodeChunk `json:"relevant_code_chunks"`
	CommitsAnalyzed    int                 `json:"commits_analyzed"`
	PRsAnalyzed        int                 `json:"prs_analyzed"`
}

// EmptyCorrelation returns the benign result used when a project has
// no linked repository.
func EmptyCorrelation() *CodeCorrelationOutput {
	return &CodeCorrelationOutput{
		HasRepository:      false,
		SuspectedCommits:   []CorrelatedCommit{},
		SuspectedPRs:       []CorrelatedPR{},
		RelevantCodeChunks: []RelevantCodeChunk{},
	}
}
