package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/l10nsync/internal/config"
	"github.com/schaermu/l10nsync/internal/github"
	"github.com/schaermu/l10nsync/internal/l10n"
	"github.com/schaermu/l10nsync/internal/metrics"
	"github.com/schaermu/l10nsync/internal/transifex"
)

// Engine orchestrates both sync directions for one configuration
type Engine struct {
	cfg     *config.Config
	github  github.Client
	tx      transifex.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	dryRun  bool
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, gh github.Client, tx transifex.Client, logger *slog.Logger, m *metrics.Metrics, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		github:  gh,
		tx:      tx,
		logger:  logger,
		metrics: m,
		dryRun:  dryRun || cfg.Sync.DryRun,
	}
}

// PushReport summarizes a handled push
type PushReport struct {
	Repo       string
	Branch     string
	Kind       Kind
	Resolution *Resolution
}

// Push propagates a repository push to Transifex: classify, resolve, then
// execute. Resolution completes before any content is transferred; execution
// failures are per resource and aggregated in the returned error.
func (e *Engine) Push(ctx context.Context, ev *PushEvent) (*PushReport, error) {
	repoName := ev.RepoName()
	repoCfg, ok := e.cfg.Repo(repoName)
	if !ok {
		return nil, fmt.Errorf("%w: repository %s is not configured", ErrUnresolvable, repoName)
	}
	project, ok := e.cfg.Project(repoCfg.TransifexProject)
	if !ok {
		return nil, fmt.Errorf("%w: transifex project %s is not configured", ErrUnresolvable, repoCfg.TransifexProject)
	}
	index, err := e.projectIndex(repoCfg.TransifexProject)
	if err != nil {
		return nil, err
	}

	branch := ev.Branch()
	report := &PushReport{Repo: repoName, Branch: branch, Resolution: newResolution()}
	if ev.Deleted {
		e.logger.Info("ignoring branch deletion", "repo", repoName, "branch", branch)
		return report, nil
	}
	if err := l10n.ValidateBranch(branch); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	e.logger.Info("handling push",
		"repo", repoName,
		"branch", branch,
		"commits", len(ev.Commits),
		"resources", index.Len(),
		"dry_run", e.dryRun)

	repo := NewCachedRepository(e.github, 0)

	kind, err := Classify(ctx, repo, repoName, ev)
	if err != nil {
		return nil, err
	}
	report.Kind = kind
	e.metrics.Push(kind.String())

	resolution, err := NewResolver(repo, index, e.logger).Resolve(ctx, repoName, ev, kind)
	if err != nil {
		return nil, fmt.Errorf("resolve push: %w", err)
	}
	report.Resolution = resolution

	e.logger.Info("push resolved",
		"kind", kind.String(),
		"sources", len(resolution.Sources),
		"translations", len(resolution.Translations))
	for _, line := range describe(resolution, branch) {
		e.logger.Debug("planned operation", "op", line)
	}

	if resolution.Empty() {
		return report, nil
	}

	executor := NewExecutor(repo, e.tx, project.LanguageMap(), e.logger, e.metrics, e.cfg.Sync.Concurrency, e.dryRun)
	if err := executor.Execute(ctx, repoName, branch, resolution); err != nil {
		return report, err
	}
	return report, nil
}

// Pull commits a completed translation back to the linked repository
func (e *Engine) Pull(ctx context.Context, ev *TranslationEvent) (*PullResult, error) {
	project, ok := e.cfg.Project(ev.Project)
	if !ok {
		return nil, fmt.Errorf("%w: transifex project %s is not configured", ErrUnresolvable, ev.Project)
	}
	repoCfg, ok := e.cfg.RepoForProject(ev.Project)
	if !ok {
		return nil, fmt.Errorf("%w: no repository linked to project %s", ErrUnresolvable, ev.Project)
	}
	index, err := e.projectIndex(ev.Project)
	if err != nil {
		return nil, err
	}

	e.logger.Info("handling translation event",
		"project", ev.Project,
		"resource", ev.Resource,
		"language", ev.Language,
		"dry_run", e.dryRun)

	target := PullTarget{
		Repo:           repoCfg.Name,
		BranchOverride: repoCfg.Branch,
		DefaultBranch:  project.DefaultBranch,
		LanguageMap:    project.LanguageMap(),
		Index:          index,
	}
	return NewReverseSyncer(e.github, e.tx, e.logger, e.metrics, e.dryRun).Sync(ctx, target, ev)
}

// projectIndex builds the resource index of a project for one invocation
func (e *Engine) projectIndex(slug string) (*l10n.Index, error) {
	project, ok := e.cfg.Project(slug)
	if !ok {
		return nil, fmt.Errorf("%w: transifex project %s is not configured", ErrUnresolvable, slug)
	}
	resources, err := project.Descriptors()
	if err != nil {
		return nil, fmt.Errorf("load resources of %s: %w", slug, err)
	}
	return l10n.NewIndex(resources), nil
}
