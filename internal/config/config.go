package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/l10nsync/internal/l10n"
)

const (
	DefaultGitHubAPIURL    = "https://api.github.com"
	DefaultTransifexAPIURL = "https://www.transifex.com"
	DefaultTransifexUser   = "api"
	DefaultListenAddr      = "127.0.0.1:8787"
	DefaultConcurrency     = 4
	DefaultTimeout         = 20 * time.Second
)

// Config represents the complete l10nsync configuration
type Config struct {
	GitHub    GitHubConfig    `yaml:"github"`
	Transifex TransifexConfig `yaml:"transifex"`
	Sync      SyncConfig      `yaml:"sync"`
	Serve     ServeConfig     `yaml:"serve"`
}

// GitHubConfig configures the repository host
type GitHubConfig struct {
	APIURL    string        `yaml:"api_url"`
	TokenFile string        `yaml:"token_file"`
	Timeout   time.Duration `yaml:"timeout"`
	Repos     []RepoConfig  `yaml:"repos"`
}

// RepoConfig links one GitHub repository to a Transifex project
type RepoConfig struct {
	Name             string `yaml:"name"` // owner/name
	TransifexProject string `yaml:"transifex_project"`
	// Branch, when set, overrides the branch translations are committed to.
	Branch string `yaml:"branch"`
}

// TransifexConfig configures the translation service
type TransifexConfig struct {
	APIURL       string             `yaml:"api_url"`
	Username     string             `yaml:"username"`
	PasswordFile string             `yaml:"password_file"`
	Timeout      time.Duration      `yaml:"timeout"`
	Projects     []TransifexProject `yaml:"projects"`
}

// TransifexProject describes one Transifex project and its resources
type TransifexProject struct {
	Slug          string           `yaml:"slug"`
	DefaultBranch string           `yaml:"default_branch"`
	LangMap       string           `yaml:"lang_map"`
	Resources     []ResourceConfig `yaml:"resources"`
}

// ResourceConfig describes one resource of a project
type ResourceConfig struct {
	Slug            string `yaml:"slug"`
	Type            string `yaml:"type"`
	SourceLang      string `yaml:"source_lang"`
	SourceFile      string `yaml:"source_file"`
	TranslationFile string `yaml:"translation_file"`
	LangMap         string `yaml:"lang_map"`
}

// SyncConfig configures sync execution
type SyncConfig struct {
	Concurrency int  `yaml:"concurrency"`
	DryRun      bool `yaml:"dry_run"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in path and URL fields
func (c *Config) expandEnv() {
	c.GitHub.APIURL = os.ExpandEnv(c.GitHub.APIURL)
	c.GitHub.TokenFile = os.ExpandEnv(c.GitHub.TokenFile)
	c.Transifex.APIURL = os.ExpandEnv(c.Transifex.APIURL)
	c.Transifex.Username = os.ExpandEnv(c.Transifex.Username)
	c.Transifex.PasswordFile = os.ExpandEnv(c.Transifex.PasswordFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if c.GitHub.Timeout == 0 {
		c.GitHub.Timeout = DefaultTimeout
	}
	if c.Transifex.APIURL == "" {
		c.Transifex.APIURL = DefaultTransifexAPIURL
	}
	if c.Transifex.Username == "" {
		c.Transifex.Username = DefaultTransifexUser
	}
	if c.Transifex.Timeout == 0 {
		c.Transifex.Timeout = DefaultTimeout
	}
	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = DefaultListenAddr
	}
	for i := range c.Transifex.Projects {
		if c.Transifex.Projects[i].DefaultBranch == "" {
			c.Transifex.Projects[i].DefaultBranch = l10n.DefaultBranch
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Sync.Concurrency < 0 {
		return fmt.Errorf("sync.concurrency must not be negative: %d", c.Sync.Concurrency)
	}

	projects := make(map[string]bool, len(c.Transifex.Projects))
	for i, p := range c.Transifex.Projects {
		if p.Slug == "" {
			return fmt.Errorf("transifex.projects[%d].slug is required", i)
		}
		if projects[p.Slug] {
			return fmt.Errorf("transifex project %q is configured twice", p.Slug)
		}
		projects[p.Slug] = true

		if err := l10n.ValidateBranch(p.DefaultBranch); err != nil {
			return fmt.Errorf("project %s: default_branch: %w", p.Slug, err)
		}
		if _, err := l10n.ParseLanguageMap(p.LangMap); err != nil {
			return fmt.Errorf("project %s: lang_map: %w", p.Slug, err)
		}
		if err := p.validateResources(); err != nil {
			return err
		}
	}

	repos := make(map[string]bool, len(c.GitHub.Repos))
	for i, r := range c.GitHub.Repos {
		if r.Name == "" || !strings.Contains(r.Name, "/") {
			return fmt.Errorf("github.repos[%d].name must be owner/name: %q", i, r.Name)
		}
		if repos[r.Name] {
			return fmt.Errorf("github repo %q is configured twice", r.Name)
		}
		repos[r.Name] = true
		if r.TransifexProject == "" {
			return fmt.Errorf("github repo %s: transifex_project is required", r.Name)
		}
		if !projects[r.TransifexProject] {
			return fmt.Errorf("github repo %s: unknown transifex_project %q", r.Name, r.TransifexProject)
		}
	}

	return nil
}

func (p TransifexProject) validateResources() error {
	for i, r := range p.Resources {
		if r.Slug == "" {
			return fmt.Errorf("project %s: resources[%d].slug is required", p.Slug, i)
		}
		if strings.Contains(r.Slug, l10n.BranchSeparator) {
			return fmt.Errorf("project %s: resource slug %q must not contain %q", p.Slug, r.Slug, l10n.BranchSeparator)
		}
		if r.SourceLang == "" {
			return fmt.Errorf("project %s: resource %s: source_lang is required", p.Slug, r.Slug)
		}
		if r.SourceFile == "" {
			return fmt.Errorf("project %s: resource %s: source_file is required", p.Slug, r.Slug)
		}
		if !strings.Contains(r.TranslationFile, l10n.LangPlaceholder) {
			return fmt.Errorf("project %s: resource %s: translation_file must contain %s", p.Slug, r.Slug, l10n.LangPlaceholder)
		}
		if _, err := l10n.ParseLanguageMap(r.LangMap); err != nil {
			return fmt.Errorf("project %s: resource %s: lang_map: %w", p.Slug, r.Slug, err)
		}
	}
	return nil
}

// Repo returns the configuration of the named repository
func (c *Config) Repo(name string) (*RepoConfig, bool) {
	for i := range c.GitHub.Repos {
		if c.GitHub.Repos[i].Name == name {
			return &c.GitHub.Repos[i], true
		}
	}
	return nil, false
}

// RepoForProject returns the repository linked to a Transifex project
func (c *Config) RepoForProject(slug string) (*RepoConfig, bool) {
	for i := range c.GitHub.Repos {
		if c.GitHub.Repos[i].TransifexProject == slug {
			return &c.GitHub.Repos[i], true
		}
	}
	return nil, false
}

// Project returns the named Transifex project
func (c *Config) Project(slug string) (*TransifexProject, bool) {
	for i := range c.Transifex.Projects {
		if c.Transifex.Projects[i].Slug == slug {
			return &c.Transifex.Projects[i], true
		}
	}
	return nil, false
}

// LanguageMap returns the project-wide language map. Validate guarantees it parses.
func (p *TransifexProject) LanguageMap() l10n.LanguageMap {
	m, err := l10n.ParseLanguageMap(p.LangMap)
	if err != nil {
		return l10n.LanguageMap{}
	}
	return m
}

// Descriptors builds the project's resource descriptors in configuration order.
func (p *TransifexProject) Descriptors() ([]*l10n.Resource, error) {
	out := make([]*l10n.Resource, 0, len(p.Resources))
	for _, rc := range p.Resources {
		langMap, err := l10n.ParseLanguageMap(rc.LangMap)
		if err != nil {
			return nil, fmt.Errorf("resource %s: lang_map: %w", rc.Slug, err)
		}
		out = append(out, &l10n.Resource{
			ProjectSlug:     p.Slug,
			ResourceSlug:    rc.Slug,
			Type:            rc.Type,
			SourceLang:      rc.SourceLang,
			SourceFile:      rc.SourceFile,
			TranslationFile: rc.TranslationFile,
			LanguageMap:     langMap,
			DefaultBranch:   p.DefaultBranch,
		})
	}
	return out, nil
}

// ReadSecret reads a secret from file, trimming whitespace. An empty path
// yields an empty secret.
func ReadSecret(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
