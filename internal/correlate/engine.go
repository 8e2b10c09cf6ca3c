// Package correlate ranks recent repository changes as root-cause
// suspects for a fired alert. It combines three independent signals
// per commit and merged PR: recency relative to the trigger, semantic
// overlap with code the error text points at, and overlap with stack
// trace paths. Pure reads; the engine never mutates state, so a retry
// is always safe.
package correlate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spanlight/spanlight/internal/codesearch"
	"github.com/spanlight/spanlight/internal/models"
	"github.com/spanlight/spanlight/internal/storage"
	"github.com/spanlight/spanlight/internal/tuning"
)

// Engine scores commits and merged PRs against a trace analysis.
type Engine struct {
	projects storage.ProjectRepository
	repos    storage.RepoRepository
	searcher codesearch.Searcher
	tuning   *tuning.Source
}

// NewEngine creates a correlation engine. A nil searcher disables the
// semantic signal; temporal and path signals still rank.
func NewEngine(projects storage.ProjectRepository, repos storage.RepoRepository, searcher codesearch.Searcher, source *tuning.Source) *Engine {
	return &Engine{projects: projects, repos: repos, searcher: searcher, tuning: source}
}

// Correlate runs the full ranking for one fired alert. A project with
// no linked repository returns the benign empty result, not an error.
func (e *Engine) Correlate(ctx context.Context, in models.CorrelationInput) (*models.CodeCorrelationOutput, error) {
	cfg := e.tuning.Current().Correlation

	project, err := e.projects.GetByID(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", in.ProjectID, err)
	}
	if !project.HasRepository() {
		return models.EmptyCorrelation(), nil
	}

	lookbackDays := in.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = cfg.LookbackDays
	}
	lookback := time.Duration(lookbackDays) * 24 * time.Hour
	since := in.AlertTriggeredAt.Add(-lookback)
	until := in.AlertTriggeredAt

	out := &models.CodeCorrelationOutput{
		HasRepository:      true,
		SuspectedCommits:   []models.CorrelatedCommit{},
		SuspectedPRs:       []models.CorrelatedPR{},
		RelevantCodeChunks: []models.RelevantCodeChunk{},
	}

	out.SearchQuery = buildSearchQuery(in.Analysis)
	var chunks []models.RelevantCodeChunk
	if out.SearchQuery != "" && e.searcher != nil {
		found, err := e.searcher.Search(ctx, in.ProjectID, out.SearchQuery, cfg.TopKChunks, cfg.MinSimilarity)
		if err != nil {
			// Temporal and path signals still have value.
			log.Printf("correlate: code search failed for project %s, continuing without chunks: %v", in.ProjectID, err)
			out.SearchDegraded = true
		} else {
			chunks = found
			out.RelevantCodeChunks = append(out.RelevantCodeChunks, found...)
		}
	}

	stackPaths := extractStackPaths(in.Analysis)

	// Commit and PR ranking only read shared inputs and write disjoint
	// output fields, so they run concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		commits, err := e.repos.ListCommits(gctx, project.RepoID, since, until, cfg.MaxCommits)
		if err != nil {
			return fmt.Errorf("list commits for repo %s: %w", project.RepoID, err)
		}
		out.CommitsAnalyzed = len(commits)
		out.SuspectedCommits = rankCommits(commits, in.AlertTriggeredAt, lookback, chunks, stackPaths, &cfg)
		return nil
	})
	g.Go(func() error {
		prs, err := e.repos.ListMergedPRs(gctx, project.RepoID, since, until, cfg.MaxCommits)
		if err != nil {
			return fmt.Errorf("list merged PRs for repo %s: %w", project.RepoID, err)
		}
		out.PRsAnalyzed = len(prs)
		out.SuspectedPRs = rankPRs(prs, in.AlertTriggeredAt, lookback, chunks, stackPaths, &cfg)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("correlate: project %s repo %s: %d of %d commits and %d of %d PRs suspected, %d chunks, %d stack paths",
		in.ProjectID, project.RepoID,
		len(out.SuspectedCommits), out.CommitsAnalyzed,
		len(out.SuspectedPRs), out.PRsAnalyzed,
		len(out.RelevantCodeChunks), len(stackPaths))
	return out, nil
}

func rankCommits(commits []*models.Commit, triggeredAt time.Time, lookback time.Duration, chunks []models.RelevantCodeChunk, stackPaths []string, cfg *tuning.CorrelationConfig) []models.CorrelatedCommit {
	ranked := make([]models.CorrelatedCommit, 0, len(commits))
	for _, c := range commits {
		if c.CommittedAt.IsZero() {
			// Sync gap; this commit cannot be placed in time. Skip it,
			// never abort the ranking.
			continue
		}
		signals := models.ScoreBreakdown{
			Temporal:  temporalScore(c.CommittedAt, triggeredAt, lookback),
			Semantic:  semanticScore(c.FilesChanged, chunks),
			PathMatch: pathMatchScore(c.FilesChanged, stackPaths),
		}
		score := combinedScore(signals, cfg)
		if score < cfg.MinScore {
			continue
		}
		ranked = append(ranked, models.CorrelatedCommit{
			SHA:         c.SHA,
			Message:     subjectLine(c.Message),
			Author:      c.Author,
			CommittedAt: c.CommittedAt,
			Score:       score,
			Signals:     signals,
			SampleFiles: sampleFiles(c.FilesChanged, cfg.SampleFiles),
		})
	}
	// Stable keeps the repository's most-recent-first order between
	// equal scores.
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > cfg.MaxSuspects {
		ranked = ranked[:cfg.MaxSuspects]
	}
	return ranked
}

func rankPRs(prs []*models.PullRequest, triggeredAt time.Time, lookback time.Duration, chunks []models.RelevantCodeChunk, stackPaths []string, cfg *tuning.CorrelationConfig) []models.CorrelatedPR {
	ranked := make([]models.CorrelatedPR, 0, len(prs))
	for _, pr := range prs {
		if pr.MergedAt == nil || pr.MergedAt.IsZero() {
			continue
		}
		signals := models.ScoreBreakdown{
			Temporal:  temporalScore(*pr.MergedAt, triggeredAt, lookback),
			Semantic:  semanticScore(pr.FilesChanged, chunks),
			PathMatch: pathMatchScore(pr.FilesChanged, stackPaths),
		}
		score := combinedScore(signals, cfg)
		if score < cfg.MinScore {
			continue
		}
		ranked = append(ranked, models.CorrelatedPR{
			Number:      pr.Number,
			Title:       pr.Title,
			Author:      pr.Author,
			MergedAt:    *pr.MergedAt,
			Score:       score,
			Signals:     signals,
			SampleFiles: sampleFiles(pr.FilesChanged, cfg.SampleFiles),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > cfg.MaxSuspects {
		ranked = ranked[:cfg.MaxSuspects]
	}
	return ranked
}

// subjectLine returns the first line of a commit message.
func subjectLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return strings.TrimSpace(message)
}

func sampleFiles(files []string, limit int) []string {
	if limit <= 0 || len(files) == 0 {
		return nil
	}
	if len(files) > limit {
		files = files[:limit]
	}
	out := make([]string, len(files))
	copy(out, files)
	return out
}
