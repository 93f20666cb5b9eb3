package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/l10nsync/internal/l10n"
	"github.com/schaermu/l10nsync/internal/metrics"
	"github.com/schaermu/l10nsync/internal/transifex"
)

// Executor pushes resolved content from the repository to Transifex
type Executor struct {
	repo        *CachedRepository
	tx          transifex.Client
	langMap     l10n.LanguageMap
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	dryRun      bool
}

// NewExecutor creates an executor dispatching at most concurrency operations
// at once. langMap is the project-wide language map.
func NewExecutor(repo *CachedRepository, tx transifex.Client, langMap l10n.LanguageMap, logger *slog.Logger, m *metrics.Metrics, concurrency int, dryRun bool) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Executor{
		repo:        repo,
		tx:          tx,
		langMap:     langMap,
		logger:      logger,
		metrics:     m,
		concurrency: concurrency,
		dryRun:      dryRun,
	}
}

// Execute performs every operation in res. Source updates run before any
// translation upload so that resources created for a new branch exist by
// then. Each operation is attempted even when siblings fail; the returned
// error aggregates *OpError values.
func (e *Executor) Execute(ctx context.Context, repoName, branch string, res *Resolution) error {
	var (
		mu   gosync.Mutex
		merr *multierror.Error
	)
	record := func(err error) {
		mu.Lock()
		merr = multierror.Append(merr, err)
		mu.Unlock()
	}

	sources := e.group()
	for _, task := range res.SourceTasks() {
		sources.Go(func() error {
			if err := e.updateSource(ctx, repoName, branch, task); err != nil {
				record(&OpError{Resource: task.Resource.String(), Op: OpUpdateSource, Err: err})
			}
			return nil
		})
	}
	_ = sources.Wait()

	translations := e.group()
	for _, task := range res.TranslationTasks() {
		translations.Go(func() error {
			if err := e.uploadTranslation(ctx, repoName, branch, task); err != nil {
				record(&OpError{Resource: task.Resource.String(), Language: task.Language, Op: OpUploadTranslation, Err: err})
			}
			return nil
		})
	}
	_ = translations.Wait()

	return merr.ErrorOrNil()
}

// group returns a bounded group whose tasks never cancel each other
func (e *Executor) group() *errgroup.Group {
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	return g
}

func (e *Executor) updateSource(ctx context.Context, repoName, branch string, task SourceTask) error {
	res := task.Resource
	content, err := e.readFile(ctx, repoName, task.CommitID, res.SourceFile)
	if err != nil {
		e.metrics.Operation(string(OpUpdateSource), metrics.ResultError)
		return err
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would update source",
			"resource", res.Slug(branch), "path", res.SourceFile, "commit", task.CommitID, "bytes", len(content))
		e.metrics.Operation(string(OpUpdateSource), metrics.ResultDryRun)
		return nil
	}

	if err := e.tx.UpdateSourceContent(ctx, res, content, branch); err != nil {
		e.metrics.Operation(string(OpUpdateSource), metrics.ResultError)
		return err
	}
	e.logger.Info("updated source", "resource", res.Slug(branch), "path", res.SourceFile, "commit", task.CommitID)
	e.metrics.Operation(string(OpUpdateSource), metrics.ResultOK)
	return nil
}

func (e *Executor) uploadTranslation(ctx context.Context, repoName, branch string, task TranslationTask) error {
	res := task.Resource
	path := res.TranslationPath(task.Language)
	content, err := e.readFile(ctx, repoName, task.CommitID, path)
	if err != nil {
		e.metrics.Operation(string(OpUploadTranslation), metrics.ResultError)
		return err
	}

	txLang := ServiceLanguage(res, e.langMap, task.Language)
	if e.dryRun {
		e.logger.Info("[dry-run] would upload translation",
			"resource", res.Slug(branch), "language", txLang, "path", path, "commit", task.CommitID)
		e.metrics.Operation(string(OpUploadTranslation), metrics.ResultDryRun)
		return nil
	}

	if err := e.tx.UploadTranslation(ctx, res, txLang, content, branch); err != nil {
		e.metrics.Operation(string(OpUploadTranslation), metrics.ResultError)
		return err
	}
	e.logger.Info("uploaded translation", "resource", res.Slug(branch), "language", txLang, "path", path, "commit", task.CommitID)
	e.metrics.Operation(string(OpUploadTranslation), metrics.ResultOK)
	return nil
}

// readFile fetches and decodes the blob at path in commitID's tree
func (e *Executor) readFile(ctx context.Context, repoName, commitID, path string) ([]byte, error) {
	tree, err := e.repo.TreeAt(ctx, repoName, commitID)
	if err != nil {
		return nil, fmt.Errorf("fetch tree at %s: %w", commitID, err)
	}
	entry, ok := tree.Find(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s not found at %s", ErrUnresolvable, path, commitID)
	}
	blob, err := e.repo.GetBlob(ctx, repoName, entry.SHA)
	if err != nil {
		return nil, fmt.Errorf("fetch blob for %s: %w", path, err)
	}
	content, err := blob.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return content, nil
}

// describe lists the planned operations, one line each
func describe(res *Resolution, branch string) []string {
	var out []string
	for _, t := range res.SourceTasks() {
		out = append(out, fmt.Sprintf("%s %s@%s", OpUpdateSource, t.Resource.Slug(branch), t.CommitID))
	}
	for _, t := range res.TranslationTasks() {
		out = append(out, fmt.Sprintf("%s %s[%s]@%s", OpUploadTranslation, t.Resource.Slug(branch), t.Language, t.CommitID))
	}
	return out
}
