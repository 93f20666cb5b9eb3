package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `
github:
  token_file: "/run/secrets/github_token"
  repos:
    - name: "strava/web"
      transifex_project: "web"
      branch: "l10n"

transifex:
  username: "bot"
  password_file: "/run/secrets/tx_password"
  timeout: 5s
  projects:
    - slug: "web"
      lang_map: "fr:fr-FR, pt_BR:pt-BR"
      resources:
        - slug: "docs"
          type: "KEYVALUEJSON"
          source_lang: "en"
          source_file: "en.json"
          translation_file: "i18n/<lang>.json"
          lang_map: "de:de-DE"

sync:
  concurrency: 8

serve:
  listen_addr: "0.0.0.0:9000"
  allowed_refs:
    - "refs/heads/master"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GitHub.APIURL != DefaultGitHubAPIURL {
		t.Errorf("expected default GitHub API URL, got %s", cfg.GitHub.APIURL)
	}
	if cfg.Transifex.Username != "bot" {
		t.Errorf("expected username bot, got %s", cfg.Transifex.Username)
	}
	if cfg.Transifex.Timeout != 5*time.Second {
		t.Errorf("expected transifex timeout 5s, got %s", cfg.Transifex.Timeout)
	}
	if cfg.GitHub.Timeout != DefaultTimeout {
		t.Errorf("expected default github timeout, got %s", cfg.GitHub.Timeout)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Serve.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen addr 0.0.0.0:9000, got %s", cfg.Serve.ListenAddr)
	}

	project, ok := cfg.Project("web")
	if !ok {
		t.Fatal("expected project web to be configured")
	}
	if project.DefaultBranch != "master" {
		t.Errorf("expected default branch master, got %s", project.DefaultBranch)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "github: [unterminated")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	content := `
github:
  repos:
    - name: "strava/web"
      transifex_project: "missing"
`
	if _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("expected validation error for unknown project")
	}
}

func validConfig() Config {
	return Config{
		GitHub: GitHubConfig{
			Repos: []RepoConfig{{Name: "strava/web", TransifexProject: "web"}},
		},
		Transifex: TransifexConfig{
			Projects: []TransifexProject{{
				Slug:    "web",
				LangMap: "fr:fr-FR",
				Resources: []ResourceConfig{{
					Slug:            "docs",
					SourceLang:      "en",
					SourceFile:      "en.json",
					TranslationFile: "i18n/<lang>.json",
				}},
			}},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty config is valid",
			mutate:  func(c *Config) { *c = Config{} },
			wantErr: false,
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Sync.Concurrency = -1 },
			wantErr: true,
		},
		{
			name:    "missing project slug",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Slug = "" },
			wantErr: true,
		},
		{
			name: "duplicate project",
			mutate: func(c *Config) {
				c.Transifex.Projects = append(c.Transifex.Projects, c.Transifex.Projects[0])
			},
			wantErr: true,
		},
		{
			name:    "bad project lang map",
			mutate:  func(c *Config) { c.Transifex.Projects[0].LangMap = "fr" },
			wantErr: true,
		},
		{
			name:    "default branch with separator",
			mutate:  func(c *Config) { c.Transifex.Projects[0].DefaultBranch = "a_B_b" },
			wantErr: true,
		},
		{
			name:    "default branch with slash escape",
			mutate:  func(c *Config) { c.Transifex.Projects[0].DefaultBranch = "fix_S_thing" },
			wantErr: true,
		},
		{
			name:    "resource slug with separator",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Resources[0].Slug = "docs_B_x" },
			wantErr: true,
		},
		{
			name:    "resource missing source file",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Resources[0].SourceFile = "" },
			wantErr: true,
		},
		{
			name:    "resource missing source lang",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Resources[0].SourceLang = "" },
			wantErr: true,
		},
		{
			name:    "translation file without placeholder",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Resources[0].TranslationFile = "i18n/fr.json" },
			wantErr: true,
		},
		{
			name:    "bad resource lang map",
			mutate:  func(c *Config) { c.Transifex.Projects[0].Resources[0].LangMap = "de" },
			wantErr: true,
		},
		{
			name:    "repo name without owner",
			mutate:  func(c *Config) { c.GitHub.Repos[0].Name = "web" },
			wantErr: true,
		},
		{
			name: "duplicate repo",
			mutate: func(c *Config) {
				c.GitHub.Repos = append(c.GitHub.Repos, c.GitHub.Repos[0])
			},
			wantErr: true,
		},
		{
			name:    "repo without project",
			mutate:  func(c *Config) { c.GitHub.Repos[0].TransifexProject = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{
		Transifex: TransifexConfig{
			Projects: []TransifexProject{{Slug: "web"}, {Slug: "app", DefaultBranch: "main"}},
		},
	}
	cfg.applyDefaults()

	if cfg.Transifex.APIURL != DefaultTransifexAPIURL {
		t.Errorf("expected default transifex URL, got %s", cfg.Transifex.APIURL)
	}
	if cfg.Transifex.Username != DefaultTransifexUser {
		t.Errorf("expected default transifex user, got %s", cfg.Transifex.Username)
	}
	if cfg.Sync.Concurrency != DefaultConcurrency {
		t.Errorf("expected default concurrency, got %d", cfg.Sync.Concurrency)
	}
	if cfg.Serve.ListenAddr != DefaultListenAddr {
		t.Errorf("expected default listen addr, got %s", cfg.Serve.ListenAddr)
	}
	if cfg.Transifex.Projects[0].DefaultBranch != "master" {
		t.Errorf("expected master default branch, got %s", cfg.Transifex.Projects[0].DefaultBranch)
	}
	if cfg.Transifex.Projects[1].DefaultBranch != "main" {
		t.Errorf("expected configured default branch to be kept, got %s", cfg.Transifex.Projects[1].DefaultBranch)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("L10NSYNC_SECRETS", "/run/secrets")

	cfg := Config{
		GitHub:    GitHubConfig{TokenFile: "$L10NSYNC_SECRETS/github"},
		Transifex: TransifexConfig{PasswordFile: "${L10NSYNC_SECRETS}/tx"},
		Serve:     ServeConfig{GitHubWebhookSecretFile: "$L10NSYNC_SECRETS/hook"},
	}
	cfg.expandEnv()

	if cfg.GitHub.TokenFile != "/run/secrets/github" {
		t.Errorf("unexpected token file: %s", cfg.GitHub.TokenFile)
	}
	if cfg.Transifex.PasswordFile != "/run/secrets/tx" {
		t.Errorf("unexpected password file: %s", cfg.Transifex.PasswordFile)
	}
	if cfg.Serve.GitHubWebhookSecretFile != "/run/secrets/hook" {
		t.Errorf("unexpected webhook secret file: %s", cfg.Serve.GitHubWebhookSecretFile)
	}
}

func TestConfigLookups(t *testing.T) {
	cfg := validConfig()
	cfg.GitHub.Repos[0].Branch = "l10n"

	repo, ok := cfg.Repo("strava/web")
	if !ok || repo.Branch != "l10n" {
		t.Fatalf("Repo() = %v, %v", repo, ok)
	}
	if _, ok := cfg.Repo("strava/other"); ok {
		t.Error("expected unknown repo lookup to fail")
	}

	repo, ok = cfg.RepoForProject("web")
	if !ok || repo.Name != "strava/web" {
		t.Fatalf("RepoForProject() = %v, %v", repo, ok)
	}
	if _, ok := cfg.RepoForProject("other"); ok {
		t.Error("expected unknown project lookup to fail")
	}
}

func TestDescriptors(t *testing.T) {
	cfg := validConfig()
	cfg.applyDefaults()
	cfg.Transifex.Projects[0].Resources[0].LangMap = "de:de-DE"

	project, _ := cfg.Project("web")
	resources, err := project.Descriptors()
	if err != nil {
		t.Fatalf("Descriptors() failed: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(resources))
	}

	r := resources[0]
	if r.ProjectSlug != "web" || r.ResourceSlug != "docs" {
		t.Errorf("unexpected identifiers: %s/%s", r.ProjectSlug, r.ResourceSlug)
	}
	if r.DefaultBranch != "master" {
		t.Errorf("expected project default branch on resource, got %q", r.DefaultBranch)
	}
	if got, _ := r.LanguageMap.Lookup("de"); got != "de-DE" {
		t.Errorf("LanguageMap.Lookup(de) = %s", got)
	}
	if got, _ := project.LanguageMap().Lookup("fr"); got != "fr-FR" {
		t.Errorf("project LanguageMap().Lookup(fr) = %s", got)
	}
}

func TestReadSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ReadSecret(path)
	if err != nil {
		t.Fatalf("ReadSecret failed: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("expected trimmed secret, got %q", got)
	}

	got, err = ReadSecret("")
	if err != nil || got != "" {
		t.Errorf("ReadSecret(\"\") = %q, %v", got, err)
	}

	if _, err := ReadSecret(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing secret file")
	}
}
