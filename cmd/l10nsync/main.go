package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/l10nsync/internal/activation"
	"github.com/schaermu/l10nsync/internal/config"
	"github.com/schaermu/l10nsync/internal/github"
	"github.com/schaermu/l10nsync/internal/metrics"
	"github.com/schaermu/l10nsync/internal/sync"
	"github.com/schaermu/l10nsync/internal/transifex"
	"github.com/schaermu/l10nsync/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool

	// sync flags
	payloadFile string

	// pull flags
	pullProject  string
	pullResource string
	pullLanguage string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "l10nsync",
	Short: "Synchronize localization files between GitHub and Transifex",
	Long: `l10nsync keeps source strings and translations in sync between GitHub
repositories and Transifex projects.

Pushes to a repository update the matching Transifex resources, one resource
per branch. Completed translations on Transifex are committed back to the
branch they belong to.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that receives GitHub push webhooks
on /hooks/github and Transifex translation webhooks on /hooks/transifex.

When started through systemd socket activation the inherited socket is used,
otherwise the server binds serve.listen_addr.`,
	RunE: runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay a GitHub push payload once",
	Long: `Sync reads a GitHub push webhook payload from a file (or stdin with "-")
and propagates it to Transifex exactly like the webhook server would.`,
	RunE: runSync,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Commit one completed translation to the repository",
	Long: `Pull downloads a translation from Transifex and commits it to the linked
repository, as if a translation-completed webhook had been received.`,
	RunE: runPull,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("l10nsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/l10nsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	syncCmd.Flags().StringVar(&payloadFile, "payload", "", "push payload file, - for stdin")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	_ = syncCmd.MarkFlagRequired("payload")

	pullCmd.Flags().StringVar(&pullProject, "project", "", "Transifex project slug")
	pullCmd.Flags().StringVar(&pullResource, "resource", "", "Transifex resource slug, branch-qualified with _B_")
	pullCmd.Flags().StringVar(&pullLanguage, "language", "", "Transifex language code")
	pullCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	_ = pullCmd.MarkFlagRequired("project")
	_ = pullCmd.MarkFlagRequired("resource")
	_ = pullCmd.MarkFlagRequired("language")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	m := metrics.New()
	engine, err := newEngine(cfg, logger, m, false)
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, engine, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	listener, activated, err := activation.Listen(cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}
	if activated {
		logger.Info("using systemd socket activation", "addr", listener.Addr().String())
	}

	return server.Serve(ctx, listener)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	payload, err := readPayload(cmd.InOrStdin(), payloadFile)
	if err != nil {
		return err
	}
	ev, err := sync.ParsePushEvent(payload)
	if err != nil {
		return err
	}

	engine, err := newEngine(cfg, logger, nil, dryRun)
	if err != nil {
		return err
	}

	logger.Info("starting sync operation", "repo", ev.RepoName(), "ref", ev.Ref)
	report, err := engine.Push(ctx, ev)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	logger.Info("sync completed",
		"kind", report.Kind.String(),
		"sources", len(report.Resolution.Sources),
		"translations", len(report.Resolution.Translations))
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ev := &sync.TranslationEvent{Project: pullProject, Resource: pullResource, Language: pullLanguage}
	if err := ev.Validate(); err != nil {
		return err
	}

	engine, err := newEngine(cfg, logger, nil, dryRun)
	if err != nil {
		return err
	}

	result, err := engine.Pull(ctx, ev)
	if err != nil {
		logger.Error("pull failed", "error", err)
		return err
	}
	if !result.Skipped {
		logger.Info("pull completed", "path", result.Path, "branch", result.Branch, "commit", result.Commit)
	}
	return nil
}

// newEngine wires the API clients from cfg into a sync engine
func newEngine(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, dryRun bool) (*sync.Engine, error) {
	token, err := config.ReadSecret(cfg.GitHub.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("github token: %w", err)
	}
	password, err := config.ReadSecret(cfg.Transifex.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("transifex password: %w", err)
	}

	gh := github.NewRESTClient(cfg.GitHub.APIURL, token, cfg.GitHub.Timeout)
	tx := transifex.NewRESTClient(cfg.Transifex.APIURL, cfg.Transifex.Username, password, cfg.Transifex.Timeout, logger)

	return sync.NewEngine(cfg, gh, tx, logger, m, dryRun), nil
}

// readPayload reads the payload file, or r when path is "-"
func readPayload(r io.Reader, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("no payload file given")
	}
	if path == "-" {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return data, nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "l10nsync", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repos", len(cfg.GitHub.Repos),
		"projects", len(cfg.Transifex.Projects),
		"concurrency", cfg.Sync.Concurrency,
		"listen_addr", cfg.Serve.ListenAddr)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
