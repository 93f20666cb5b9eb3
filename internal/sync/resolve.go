package sync

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/schaermu/l10nsync/internal/l10n"
)

// Resolution maps each affected resource to the commit authoritative for its
// source content and, per repository language code, for its translations.
type Resolution struct {
	Sources      map[*l10n.Resource]string
	Translations map[*l10n.Resource]map[string]string

	order []*l10n.Resource
}

func newResolution() *Resolution {
	return &Resolution{
		Sources:      make(map[*l10n.Resource]string),
		Translations: make(map[*l10n.Resource]map[string]string),
	}
}

func (r *Resolution) touch(res *l10n.Resource) {
	if _, ok := r.Sources[res]; ok {
		return
	}
	if _, ok := r.Translations[res]; ok {
		return
	}
	r.order = append(r.order, res)
}

func (r *Resolution) setSource(res *l10n.Resource, commitID string) {
	r.touch(res)
	r.Sources[res] = commitID
}

func (r *Resolution) setTranslation(res *l10n.Resource, lang, commitID string) {
	r.touch(res)
	if r.Translations[res] == nil {
		r.Translations[res] = make(map[string]string)
	}
	r.Translations[res][lang] = commitID
}

// Empty reports whether nothing needs to be synced
func (r *Resolution) Empty() bool {
	return len(r.Sources) == 0 && len(r.Translations) == 0
}

// SourceTask is one source update to perform
type SourceTask struct {
	Resource *l10n.Resource
	CommitID string
}

// TranslationTask is one translation upload to perform. Language is the
// repository-side code captured from the file path.
type TranslationTask struct {
	Resource *l10n.Resource
	Language string
	CommitID string
}

// SourceTasks lists source updates in the order resources were first resolved
func (r *Resolution) SourceTasks() []SourceTask {
	tasks := make([]SourceTask, 0, len(r.Sources))
	for _, res := range r.order {
		if commitID, ok := r.Sources[res]; ok {
			tasks = append(tasks, SourceTask{Resource: res, CommitID: commitID})
		}
	}
	return tasks
}

// TranslationTasks lists translation uploads by resource, then language
func (r *Resolution) TranslationTasks() []TranslationTask {
	var tasks []TranslationTask
	for _, res := range r.order {
		langs := r.Translations[res]
		for _, lang := range slices.Sorted(maps.Keys(langs)) {
			tasks = append(tasks, TranslationTask{Resource: res, Language: lang, CommitID: langs[lang]})
		}
	}
	return tasks
}

// Resolver turns a classified push into a Resolution
type Resolver struct {
	repo   *CachedRepository
	index  *l10n.Index
	logger *slog.Logger
}

// NewResolver creates a resolver over a project's resource index
func NewResolver(repo *CachedRepository, index *l10n.Index, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, index: index, logger: logger}
}

// Resolve computes the resolution for ev. Any error aborts the invocation.
func (r *Resolver) Resolve(ctx context.Context, repoName string, ev *PushEvent, kind Kind) (*Resolution, error) {
	if kind.FullScan() {
		return r.resolveTree(ctx, repoName, ev)
	}
	return r.resolveCommits(ev), nil
}

// resolveCommits maps every modified source file to the latest commit that
// touched it, in the order commits were pushed.
func (r *Resolver) resolveCommits(ev *PushEvent) *Resolution {
	res := newResolution()
	for _, commit := range ev.Commits {
		for _, path := range commit.Modified {
			resource, ok := r.index.BySourceFile(path)
			if !ok {
				continue
			}
			r.logger.Debug("resolved modified source file", "resource", resource.String(), "path", path, "commit", commit.ID)
			res.setSource(resource, commit.ID)
		}
	}
	return res
}

// resolveTree scans the head commit's full tree for every resource's source
// file and translation files.
func (r *Resolver) resolveTree(ctx context.Context, repoName string, ev *PushEvent) (*Resolution, error) {
	if ev.HeadCommit == nil {
		return nil, fmt.Errorf("%w: push without head commit cannot be scanned", ErrMalformedPayload)
	}
	headID := ev.HeadCommit.ID

	tree, err := r.repo.TreeAt(ctx, repoName, headID)
	if err != nil {
		return nil, fmt.Errorf("fetch tree at %s: %w", headID, err)
	}
	if tree.Truncated {
		r.logger.Warn("tree listing truncated, some files may be missed", "repo", repoName, "commit", headID)
	}

	res := newResolution()
	for _, resource := range r.index.Resources() {
		matcher, err := resource.TranslationMatcher()
		if err != nil {
			return nil, err
		}
		for _, entry := range tree.Entries {
			if entry.Type != "" && entry.Type != "blob" {
				continue
			}
			if entry.Path == resource.SourceFile {
				res.setSource(resource, headID)
			}
			if lang, ok := matcher.Match(entry.Path); ok {
				res.setTranslation(resource, lang, headID)
			}
		}
	}

	r.logger.Debug("resolved tree scan",
		"commit", headID,
		"entries", len(tree.Entries),
		"sources", len(res.Sources),
		"translations", len(res.Translations))
	return res, nil
}
