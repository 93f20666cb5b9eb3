package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schaermu/l10nsync/internal/github"
	"github.com/schaermu/l10nsync/internal/l10n"
	"github.com/schaermu/l10nsync/internal/metrics"
	"github.com/schaermu/l10nsync/internal/transifex"
)

// PullTarget identifies the project side of a translation event
type PullTarget struct {
	Repo           string
	BranchOverride string
	DefaultBranch  string
	LanguageMap    l10n.LanguageMap
	Index          *l10n.Index
}

// PullResult reports what a reverse sync did
type PullResult struct {
	Skipped  bool
	Resource *l10n.Resource
	Path     string
	Branch   string
	Commit   string
}

// ReverseSyncer commits completed Transifex translations to the repository
type ReverseSyncer struct {
	repo    github.Client
	tx      transifex.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	dryRun  bool
}

// NewReverseSyncer creates a reverse syncer
func NewReverseSyncer(repo github.Client, tx transifex.Client, logger *slog.Logger, m *metrics.Metrics, dryRun bool) *ReverseSyncer {
	return &ReverseSyncer{repo: repo, tx: tx, logger: logger, metrics: m, dryRun: dryRun}
}

// Sync handles one translation event. Any failure aborts the event.
func (s *ReverseSyncer) Sync(ctx context.Context, target PullTarget, ev *TranslationEvent) (*PullResult, error) {
	slug, branch := l10n.SplitSlug(ev.Resource, target.DefaultBranch)

	res, ok := target.Index.BySlug(slug)
	if !ok {
		return nil, fmt.Errorf("%w: resource %s in project %s", ErrUnresolvable, slug, ev.Project)
	}

	// Source content is never propagated backward.
	if ev.Language == res.SourceLang {
		s.logger.Info("ignoring source language event", "resource", ev.Resource, "language", ev.Language)
		s.metrics.Operation(string(OpCommitTranslation), metrics.ResultSkipped)
		return &PullResult{Skipped: true, Resource: res}, nil
	}

	content, err := s.tx.DownloadTranslation(ctx, res, ev.Language, branch)
	if err != nil {
		s.metrics.Operation(string(OpCommitTranslation), metrics.ResultError)
		return nil, &OpError{Resource: res.String(), Language: ev.Language, Op: OpCommitTranslation, Err: err}
	}

	path := res.TranslationPath(PathLanguage(res, target.LanguageMap, ev.Language))

	commitBranch := branch
	if target.BranchOverride != "" {
		commitBranch = l10n.UnescapeBranch(target.BranchOverride)
	}
	result := &PullResult{Resource: res, Path: path, Branch: commitBranch}

	if s.dryRun {
		s.logger.Info("[dry-run] would commit translation",
			"repo", target.Repo, "branch", commitBranch, "path", path, "bytes", len(content))
		s.metrics.Operation(string(OpCommitTranslation), metrics.ResultDryRun)
		return result, nil
	}

	message := fmt.Sprintf("Update %s translation of %s", ev.Language, res.ResourceSlug)
	sha, err := s.repo.CommitFile(ctx, target.Repo, "heads/"+commitBranch, path, content, message)
	if err != nil {
		s.metrics.Operation(string(OpCommitTranslation), metrics.ResultError)
		return nil, &OpError{Resource: res.String(), Language: ev.Language, Op: OpCommitTranslation, Err: err}
	}
	result.Commit = sha

	s.logger.Info("committed translation",
		"repo", target.Repo, "branch", commitBranch, "path", path, "commit", sha)
	s.metrics.Operation(string(OpCommitTranslation), metrics.ResultOK)
	return result, nil
}

// PathLanguage picks the repository language code for a Transifex code: the
// resource's own map wins when it changes the code, otherwise the project map
// applies (which itself falls back to identity).
func PathLanguage(res *l10n.Resource, project l10n.LanguageMap, lang string) string {
	if mapped, ok := res.LanguageMap.Lookup(lang); ok && mapped != lang {
		return mapped
	}
	if mapped, ok := project.Lookup(lang); ok {
		return mapped
	}
	return lang
}

// ServiceLanguage is the inverse of PathLanguage: it maps a repository path
// language back to the Transifex code using the same two tiers.
func ServiceLanguage(res *l10n.Resource, project l10n.LanguageMap, lang string) string {
	if from, ok := res.LanguageMap.ReverseLookup(lang); ok && from != lang {
		return from
	}
	if from, ok := project.ReverseLookup(lang); ok {
		return from
	}
	return lang
}
