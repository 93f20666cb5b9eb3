package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/schaermu/l10nsync/internal/testutil"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			if logger := setupLogger(); logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func writeConfig(t *testing.T, githubURL, transifexURL string) string {
	t.Helper()

	tmpDir := t.TempDir()
	configContent := []byte(`github:
  api_url: "` + githubURL + `"
  repos:
    - name: strava/web
      transifex_project: web
transifex:
  api_url: "` + transifexURL + `"
  projects:
    - slug: web
      lang_map: "fr:fr-FR"
      resources:
        - slug: docs
          type: KEYVALUEJSON
          source_lang: en
          source_file: en.json
          translation_file: "i18n/<lang>.json"
sync:
  concurrency: 2
`)
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, configContent, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return cfgPath
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = writeConfig(t, "http://github.invalid", "http://transifex.invalid")

	cfg, err := loadConfig(quietLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if len(cfg.Transifex.Projects) != 1 || cfg.Transifex.Projects[0].DefaultBranch != "master" {
		t.Errorf("unexpected projects: %+v", cfg.Transifex.Projects)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	if _, err := loadConfig(quietLogger()); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	// Expect error because the default config file doesn't exist
	if _, err := loadConfig(quietLogger()); err == nil {
		t.Error("expected error when default config file doesn't exist")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestReadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	if err := os.WriteFile(path, []byte(`{"ref":"x"}`), 0o600); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	data, err := readPayload(nil, path)
	if err != nil || string(data) != `{"ref":"x"}` {
		t.Errorf("readPayload(file) = %q, %v", data, err)
	}

	data, err = readPayload(strings.NewReader("stdin"), "-")
	if err != nil || string(data) != "stdin" {
		t.Errorf("readPayload(-) = %q, %v", data, err)
	}

	if _, err := readPayload(nil, ""); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := readPayload(nil, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

// TestRunSync replays the incremental push fixture against fake GitHub and
// Transifex APIs.
func TestRunSync(t *testing.T) {
	origCfgFile, origPayload, origDryRun, origLevel := cfgFile, payloadFile, dryRun, logLevel
	t.Cleanup(func() {
		cfgFile, payloadFile, dryRun, logLevel = origCfgFile, origPayload, origDryRun, origLevel
	})

	ghMux := http.NewServeMux()
	ghMux.HandleFunc("GET /repos/strava/web/commits/b", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sha":"b","parents":[{"sha":"a"}],"commit":{"tree":{"sha":"t1"}}}`)
	})
	ghMux.HandleFunc("GET /repos/strava/web/git/trees/t1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sha":"t1","tree":[{"path":"en.json","type":"blob","sha":"s1"}]}`)
	})
	ghMux.HandleFunc("GET /repos/strava/web/git/blobs/s1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"sha":"s1","encoding":"utf-8","content":"{\"hello\":\"Hello\"}"}`)
	})
	gh := httptest.NewServer(ghMux)
	defer gh.Close()

	var (
		mu       sync.Mutex
		uploaded string
	)
	txMux := http.NewServeMux()
	txMux.HandleFunc("GET /api/2/project/web/resource/docs/{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"slug":"docs"}`)
	})
	txMux.HandleFunc("PUT /api/2/project/web/resource/docs/content/{$}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploaded = string(body)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"strings_added":1}`)
	})
	tx := httptest.NewServer(txMux)
	defer tx.Close()

	cfgFile = writeConfig(t, gh.URL, tx.URL)
	payloadFile = filepath.Join(t.TempDir(), "push.json")
	if err := os.WriteFile(payloadFile, testutil.Fixture(t, "push_incremental.json"), 0o600); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	dryRun = false
	logLevel = "error"

	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("runSync returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(uploaded, `{\"hello\":\"Hello\"}`) {
		t.Errorf("expected source content to be uploaded, got %q", uploaded)
	}
}

func TestRunPull_SourceLanguage(t *testing.T) {
	origCfgFile, origLevel := cfgFile, logLevel
	origProject, origResource, origLanguage := pullProject, pullResource, pullLanguage
	t.Cleanup(func() {
		cfgFile, logLevel = origCfgFile, origLevel
		pullProject, pullResource, pullLanguage = origProject, origResource, origLanguage
	})

	// Any request fails the test: the source language is never pulled.
	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer fail.Close()

	cfgFile = writeConfig(t, fail.URL, fail.URL)
	logLevel = "error"
	pullProject, pullResource, pullLanguage = "web", "docs", "en"

	if err := runPull(pullCmd, nil); err != nil {
		t.Fatalf("runPull returned error: %v", err)
	}
}

func TestRunPull_Invalid(t *testing.T) {
	origCfgFile, origLevel := cfgFile, logLevel
	origProject, origResource, origLanguage := pullProject, pullResource, pullLanguage
	t.Cleanup(func() {
		cfgFile, logLevel = origCfgFile, origLevel
		pullProject, pullResource, pullLanguage = origProject, origResource, origLanguage
	})

	cfgFile = writeConfig(t, "http://github.invalid", "http://transifex.invalid")
	logLevel = "error"
	pullProject, pullResource, pullLanguage = "web", "docs", ""

	if err := runPull(pullCmd, nil); err == nil {
		t.Fatal("expected error for missing language, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
