//go:build integration

package webhookflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/l10nsync/internal/config"
	"github.com/schaermu/l10nsync/internal/github"
	"github.com/schaermu/l10nsync/internal/metrics"
	l10nsync "github.com/schaermu/l10nsync/internal/sync"
	"github.com/schaermu/l10nsync/internal/transifex"
	"github.com/schaermu/l10nsync/internal/webhook"
)

const (
	testRepo    = "strava/web"
	testProject = "web"
	testSecret  = "integration-secret"
)

// Harness runs the webhook server against in-memory GitHub and Transifex APIs
type Harness struct {
	t         *testing.T
	GitHub    *GitHubAPI
	Transifex *TransifexAPI
	URL       string
}

// NewHarness starts both fake APIs and a webhook server wired to them
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	gh := newGitHubAPI()
	ghServer := httptest.NewServer(gh.handler())
	t.Cleanup(ghServer.Close)

	tx := newTransifexAPI()
	txServer := httptest.NewServer(tx.handler())
	t.Cleanup(txServer.Close)

	secretPath := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(secretPath, []byte(testSecret), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	cfg := &config.Config{
		GitHub: config.GitHubConfig{
			APIURL:  ghServer.URL,
			Timeout: 5 * time.Second,
			Repos:   []config.RepoConfig{{Name: testRepo, TransifexProject: testProject}},
		},
		Transifex: config.TransifexConfig{
			APIURL:   txServer.URL,
			Username: config.DefaultTransifexUser,
			Timeout:  5 * time.Second,
			Projects: []config.TransifexProject{{
				Slug:          testProject,
				DefaultBranch: "master",
				LangMap:       "fr:fr-FR",
				Resources: []config.ResourceConfig{{
					Slug:            "docs",
					Type:            "KEYVALUEJSON",
					SourceLang:      "en",
					SourceFile:      "en.json",
					TranslationFile: "i18n/<lang>.json",
				}},
			}},
		},
		Sync:  config.SyncConfig{Concurrency: 4},
		Serve: config.ServeConfig{GitHubWebhookSecretFile: secretPath},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(&testWriter{t: t, prefix: "[l10nsync] "}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := metrics.New()
	engine := l10nsync.NewEngine(cfg,
		github.NewRESTClient(cfg.GitHub.APIURL, "token", cfg.GitHub.Timeout),
		transifex.NewRESTClient(cfg.Transifex.APIURL, cfg.Transifex.Username, "password", cfg.Transifex.Timeout, logger),
		logger, m, false)

	server, err := webhook.NewServer(cfg, engine, m, logger)
	if err != nil {
		t.Fatalf("create webhook server: %v", err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, l) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("webhook server: %v", err)
		}
	})

	return &Harness{t: t, GitHub: gh, Transifex: tx, URL: "http://" + l.Addr().String()}
}

// PushWebhook delivers a signed GitHub push payload and returns the status
func (h *Harness) PushWebhook(payload any) (int, string) {
	h.t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal payload: %v", err)
	}
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)

	req, err := http.NewRequest(http.MethodPost, h.URL+"/hooks/github", strings.NewReader(string(body)))
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	return h.do(req)
}

// TranslationWebhook delivers a Transifex form notification
func (h *Harness) TranslationWebhook(resource, language string) (int, string) {
	h.t.Helper()

	form := fmt.Sprintf("project=%s&resource=%s&language=%s&translated=100", testProject, resource, language)
	req, err := http.NewRequest(http.MethodPost, h.URL+"/hooks/transifex", strings.NewReader(form))
	if err != nil {
		h.t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

func (h *Harness) do(req *http.Request) (int, string) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("deliver webhook: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body))
}

// GitHubAPI is an in-memory subset of the GitHub REST API for one repository
type GitHubAPI struct {
	mu      sync.Mutex
	commits map[string]fakeCommit
	trees   map[string]map[string]string // tree sha -> path -> blob sha
	blobs   map[string]string
	refs    map[string]string // branch -> commit sha
	seq     int
}

type fakeCommit struct {
	Parents []string
	Tree    string
}

func newGitHubAPI() *GitHubAPI {
	return &GitHubAPI{
		commits: make(map[string]fakeCommit),
		trees:   make(map[string]map[string]string),
		blobs:   make(map[string]string),
		refs:    make(map[string]string),
	}
}

// AddCommit records a commit with the full file set of its tree and moves
// branch to it
func (g *GitHubAPI) AddCommit(branch, sha string, parents []string, files map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	tree := make(map[string]string, len(files))
	for path, content := range files {
		tree[path] = g.storeBlob(content)
	}
	treeSHA := g.nextSHA("tree")
	g.trees[treeSHA] = tree
	g.commits[sha] = fakeCommit{Parents: parents, Tree: treeSHA}
	g.refs[branch] = sha
}

// File returns the content of path at the tip of branch
func (g *GitHubAPI) File(branch, path string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	commit, ok := g.commits[g.refs[branch]]
	if !ok {
		return "", false
	}
	blob, ok := g.trees[commit.Tree][path]
	if !ok {
		return "", false
	}
	return g.blobs[blob], true
}

func (g *GitHubAPI) storeBlob(content string) string {
	sha := g.nextSHA("blob")
	g.blobs[sha] = content
	return sha
}

func (g *GitHubAPI) nextSHA(kind string) string {
	g.seq++
	return fmt.Sprintf("%s%d", kind, g.seq)
}

func (g *GitHubAPI) handler() http.Handler {
	mux := http.NewServeMux()
	prefix := "/repos/" + testRepo

	mux.HandleFunc("GET "+prefix+"/commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		c, ok := g.commits[r.PathValue("sha")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		parents := make([]map[string]string, 0, len(c.Parents))
		for _, p := range c.Parents {
			parents = append(parents, map[string]string{"sha": p})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sha":     r.PathValue("sha"),
			"parents": parents,
			"commit":  map[string]any{"tree": map[string]string{"sha": c.Tree}},
		})
	})

	mux.HandleFunc("GET "+prefix+"/git/trees/{sha}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		tree, ok := g.trees[r.PathValue("sha")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		entries := make([]github.TreeEntry, 0, len(tree))
		for path, blob := range tree {
			entries = append(entries, github.TreeEntry{Path: path, Mode: "100644", Type: "blob", SHA: blob})
		}
		writeJSON(w, http.StatusOK, github.Tree{SHA: r.PathValue("sha"), Entries: entries})
	})

	mux.HandleFunc("GET "+prefix+"/git/blobs/{sha}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		content, ok := g.blobs[r.PathValue("sha")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, github.Blob{
			SHA:      r.PathValue("sha"),
			Encoding: github.EncodingBase64,
			Content:  base64.StdEncoding.EncodeToString([]byte(content)),
		})
	})

	mux.HandleFunc("POST "+prefix+"/git/blobs", func(w http.ResponseWriter, r *http.Request) {
		var req github.Blob
		if !readJSON(w, r, &req) {
			return
		}
		content, err := req.Decode()
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"sha": g.storeBlob(string(content))})
	})

	mux.HandleFunc("GET "+prefix+"/git/ref/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		sha, ok := g.refs[r.PathValue("branch")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": map[string]string{"sha": sha}})
	})

	mux.HandleFunc("GET "+prefix+"/git/commits/{sha}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		c, ok := g.commits[r.PathValue("sha")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sha": r.PathValue("sha"), "tree": map[string]string{"sha": c.Tree}})
	})

	mux.HandleFunc("POST "+prefix+"/git/trees", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			BaseTree string              `json:"base_tree"`
			Tree     []github.TreeEntry `json:"tree"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		tree := make(map[string]string)
		for path, blob := range g.trees[req.BaseTree] {
			tree[path] = blob
		}
		for _, e := range req.Tree {
			tree[e.Path] = e.SHA
		}
		sha := g.nextSHA("tree")
		g.trees[sha] = tree
		writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
	})

	mux.HandleFunc("POST "+prefix+"/git/commits", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tree    string   `json:"tree"`
			Parents []string `json:"parents"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		sha := g.nextSHA("commit")
		g.commits[sha] = fakeCommit{Parents: req.Parents, Tree: req.Tree}
		writeJSON(w, http.StatusCreated, map[string]string{"sha": sha})
	})

	mux.HandleFunc("PATCH "+prefix+"/git/refs/heads/{branch...}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SHA string `json:"sha"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		g.refs[r.PathValue("branch")] = req.SHA
		writeJSON(w, http.StatusOK, map[string]any{"object": map[string]string{"sha": req.SHA}})
	})

	return mux
}

// TransifexAPI is an in-memory subset of the Transifex v2 API for one project
type TransifexAPI struct {
	mu           sync.Mutex
	sources      map[string]string // resource slug -> source content
	translations map[string]string // slug/lang -> content
}

func newTransifexAPI() *TransifexAPI {
	return &TransifexAPI{
		sources:      make(map[string]string),
		translations: make(map[string]string),
	}
}

// Source returns the source content of a resource slug
func (x *TransifexAPI) Source(slug string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, ok := x.sources[slug]
	return s, ok
}

// Translation returns the stored translation of a resource slug
func (x *TransifexAPI) Translation(slug, lang string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	s, ok := x.translations[slug+"/"+lang]
	return s, ok
}

// SetTranslation stores a translation as if translators completed it
func (x *TransifexAPI) SetTranslation(slug, lang, content string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.translations[slug+"/"+lang] = content
}

func (x *TransifexAPI) handler() http.Handler {
	mux := http.NewServeMux()
	prefix := "/api/2/project/" + testProject

	mux.HandleFunc("GET "+prefix+"/resource/{slug}/{$}", func(w http.ResponseWriter, r *http.Request) {
		x.mu.Lock()
		defer x.mu.Unlock()
		if _, ok := x.sources[r.PathValue("slug")]; !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"slug": r.PathValue("slug")})
	})

	mux.HandleFunc("POST "+prefix+"/resources/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Slug    string `json:"slug"`
			Content string `json:"content"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		x.sources[req.Slug] = req.Content
		writeJSON(w, http.StatusCreated, []int{1, 0, 0})
	})

	mux.HandleFunc("PUT "+prefix+"/resource/{slug}/content/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		x.sources[r.PathValue("slug")] = req.Content
		writeJSON(w, http.StatusOK, map[string]int{"strings_added": 1})
	})

	mux.HandleFunc("GET "+prefix+"/resource/{slug}/translation/{lang}/{$}", func(w http.ResponseWriter, r *http.Request) {
		x.mu.Lock()
		defer x.mu.Unlock()
		content, ok := x.translations[r.PathValue("slug")+"/"+r.PathValue("lang")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"content": content, "mimetype": "application/json"})
	})

	mux.HandleFunc("PUT "+prefix+"/resource/{slug}/translation/{lang}/{$}", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content string `json:"content"`
		}
		if !readJSON(w, r, &req) {
			return
		}
		x.mu.Lock()
		defer x.mu.Unlock()
		x.translations[r.PathValue("slug")+"/"+r.PathValue("lang")] = req.Content
		writeJSON(w, http.StatusOK, map[string]int{"translated": 1})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// testWriter forwards log output to t.Log
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		w.t.Log(w.prefix + line)
	}
	return len(p), nil
}
