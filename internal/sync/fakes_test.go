package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	gosync "sync"

	"github.com/schaermu/l10nsync/internal/github"
	"github.com/schaermu/l10nsync/internal/l10n"
)

var errBoom = errors.New("boom")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeGitHub is an in-memory repository keyed by commit id. Each commit's
// tree sha is "tree-<commit>" and each file's blob sha is "<commit>:<path>".
type fakeGitHub struct {
	mu       gosync.Mutex
	parents  map[string][]string
	files    map[string]map[string]string // commit -> path -> content
	encoding map[string]string            // blob sha -> encoding override
	failBlob map[string]bool

	commitErr error
	commitReq []string
	treeReq   []string
	blobReq   []string
	commits   []committed
}

type committed struct {
	Repo, Ref, Path, Content, Message string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		parents:  make(map[string][]string),
		files:    make(map[string]map[string]string),
		encoding: make(map[string]string),
		failBlob: make(map[string]bool),
	}
}

func (f *fakeGitHub) addCommit(id string, parents []string, files map[string]string) {
	f.parents[id] = parents
	f.files[id] = files
}

func (f *fakeGitHub) GetCommit(_ context.Context, _, sha string) (*github.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitReq = append(f.commitReq, sha)
	if f.commitErr != nil {
		return nil, f.commitErr
	}
	parents, ok := f.parents[sha]
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", sha, errBoom)
	}
	c := &github.Commit{SHA: sha}
	for _, p := range parents {
		c.Parents = append(c.Parents, github.CommitRef{SHA: p})
	}
	c.Commit.Tree.SHA = "tree-" + sha
	return c, nil
}

func (f *fakeGitHub) GetTree(_ context.Context, _, sha string) (*github.Tree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.treeReq = append(f.treeReq, sha)
	commit := sha[len("tree-"):]
	files, ok := f.files[commit]
	if !ok {
		return nil, fmt.Errorf("tree %s: %w", sha, errBoom)
	}
	tree := &github.Tree{SHA: sha}
	for path := range files {
		tree.Entries = append(tree.Entries, github.TreeEntry{Path: path, Type: "blob", SHA: commit + ":" + path})
	}
	return tree, nil
}

func (f *fakeGitHub) GetBlob(_ context.Context, _, sha string) (*github.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobReq = append(f.blobReq, sha)
	if f.failBlob[sha] {
		return nil, errBoom
	}
	var commit, path string
	for i := range sha {
		if sha[i] == ':' {
			commit, path = sha[:i], sha[i+1:]
			break
		}
	}
	content := f.files[commit][path]
	if enc, ok := f.encoding[sha]; ok {
		return &github.Blob{SHA: sha, Encoding: enc, Content: content}, nil
	}
	return &github.Blob{SHA: sha, Encoding: github.EncodingBase64, Content: base64.StdEncoding.EncodeToString([]byte(content))}, nil
}

func (f *fakeGitHub) CommitFile(_ context.Context, repo, ref, path string, content []byte, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits = append(f.commits, committed{Repo: repo, Ref: ref, Path: path, Content: string(content), Message: message})
	return fmt.Sprintf("c%d", len(f.commits)), nil
}

func (f *fakeGitHub) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commitReq) + len(f.treeReq) + len(f.blobReq) + len(f.commits)
}

// fakeTransifex records every call and can fail per resource slug.
type fakeTransifex struct {
	mu           gosync.Mutex
	translations map[string]string // slug/lang -> content
	failSlug     map[string]bool
	downloadErr  error

	sources   []txCall
	uploads   []txCall
	downloads []txCall
	events    []string // op kinds in call order
}

type txCall struct {
	Slug, Lang, Content string
}

func newFakeTransifex() *fakeTransifex {
	return &fakeTransifex{
		translations: make(map[string]string),
		failSlug:     make(map[string]bool),
	}
}

func (f *fakeTransifex) DownloadTranslation(_ context.Context, res *l10n.Resource, lang, branch string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slug := res.Slug(branch)
	f.downloads = append(f.downloads, txCall{Slug: slug, Lang: lang})
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte(f.translations[slug+"/"+lang]), nil
}

func (f *fakeTransifex) UploadTranslation(_ context.Context, res *l10n.Resource, lang string, content []byte, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slug := res.Slug(branch)
	f.uploads = append(f.uploads, txCall{Slug: slug, Lang: lang, Content: string(content)})
	f.events = append(f.events, "upload")
	if f.failSlug[slug] {
		return errBoom
	}
	return nil
}

func (f *fakeTransifex) UpdateSourceContent(_ context.Context, res *l10n.Resource, content []byte, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slug := res.Slug(branch)
	f.sources = append(f.sources, txCall{Slug: slug, Content: string(content)})
	f.events = append(f.events, "source")
	if f.failSlug[slug] {
		return errBoom
	}
	return nil
}

func (f *fakeTransifex) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources) + len(f.uploads) + len(f.downloads)
}

func docsResource() *l10n.Resource {
	return &l10n.Resource{
		ProjectSlug:     "web",
		ResourceSlug:    "docs",
		Type:            "KEYVALUEJSON",
		SourceLang:      "en",
		SourceFile:      "en.json",
		TranslationFile: "i18n/<lang>.json",
		LanguageMap:     l10n.LanguageMap{},
		DefaultBranch:   "master",
	}
}
