package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schaermu/l10nsync/internal/config"
	"github.com/schaermu/l10nsync/internal/metrics"
	l10nsync "github.com/schaermu/l10nsync/internal/sync"
)

const (
	maxBodyBytes = 1 << 20 // 1 MB

	hookGitHub    = "github"
	hookTransifex = "transifex"
)

// Syncer runs both sync directions. *sync.Engine implements it.
type Syncer interface {
	Push(ctx context.Context, ev *l10nsync.PushEvent) (*l10nsync.PushReport, error)
	Pull(ctx context.Context, ev *l10nsync.TranslationEvent) (*l10nsync.PullResult, error)
}

// Server implements the webhook HTTP server
type Server struct {
	cfg     *config.Config
	syncer  Syncer
	metrics *metrics.Metrics
	logger  *slog.Logger
	secret  []byte

	branchMu sync.Mutex             // guards branches
	branches map[string]*branchLock // one lock per repo@branch in use
}

// branchLock is dropped from Server.branches once no push holds or waits on it.
type branchLock struct {
	mu   sync.Mutex
	refs int
}

// NewServer creates a new webhook server. Without a configured secret file,
// GitHub signatures are not checked.
func NewServer(cfg *config.Config, syncer Syncer, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	secret, err := config.ReadSecret(cfg.Serve.GitHubWebhookSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}
	if secret == "" {
		logger.Warn("no webhook secret configured, GitHub signatures will not be verified")
	}

	return &Server{
		cfg:      cfg,
		syncer:   syncer,
		metrics:  m,
		logger:   logger,
		secret:   []byte(secret),
		branches: make(map[string]*branchLock),
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/hooks/github", s.handleGitHub)
	r.Post("/hooks/transifex", s.handleTransifex)
	r.Get("/health_check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintln(w, "ok")
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Serve handles requests on l until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Syncs run inside the request.
		WriteTimeout:   5 * time.Minute,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", l.Addr().String())
		if err := server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleGitHub handles repository push webhooks
func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With("hook", hookGitHub, "request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read request body", "error", err)
		s.reply(w, hookGitHub, http.StatusRequestEntityTooLarge, "Failed to read body")
		return
	}

	if len(s.secret) > 0 && !s.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		log.Warn("rejecting request with invalid signature")
		s.reply(w, hookGitHub, http.StatusForbidden, "Invalid signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	switch eventType {
	case "ping":
		s.reply(w, hookGitHub, http.StatusOK, "pong")
		return
	case "push", "":
	default:
		log.Info("ignoring event type", "event", eventType)
		s.replySkipped(w, hookGitHub, "Event type not handled")
		return
	}

	payload, err := formPayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.Warn("failed to decode form payload", "error", err)
		s.reply(w, hookGitHub, http.StatusBadRequest, "Invalid payload")
		return
	}

	ev, err := l10nsync.ParsePushEvent(payload)
	if err != nil {
		log.Warn("rejecting push", "error", err)
		s.reply(w, hookGitHub, http.StatusBadRequest, err.Error())
		return
	}

	if !s.isRefAllowed(ev.Ref) {
		log.Info("ignoring disallowed ref", "ref", ev.Ref)
		s.replySkipped(w, hookGitHub, "Ref not configured for sync")
		return
	}

	log.Info("webhook accepted", "repo", ev.RepoName(), "ref", ev.Ref, "commits", len(ev.Commits))

	unlock := s.lockBranch(ev.RepoName() + "@" + ev.Branch())
	defer unlock()

	// The sync runs to completion even when the sender disconnects.
	report, err := s.syncer.Push(context.WithoutCancel(r.Context()), ev)
	if err != nil {
		log.Error("push sync failed", "repo", ev.RepoName(), "ref", ev.Ref, "error", err)
		s.reply(w, hookGitHub, statusFor(err), err.Error())
		return
	}

	s.reply(w, hookGitHub, http.StatusOK, fmt.Sprintf("Synced %s push: %d source(s), %d translated resource(s)",
		report.Kind, len(report.Resolution.Sources), len(report.Resolution.Translations)))
}

// handleTransifex handles translation-completed webhooks
func (s *Server) handleTransifex(w http.ResponseWriter, r *http.Request) {
	log := s.logger.With("hook", hookTransifex, "request_id", middleware.GetReqID(r.Context()))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("failed to read request body", "error", err)
		s.reply(w, hookTransifex, http.StatusRequestEntityTooLarge, "Failed to read body")
		return
	}

	ev, err := parseTranslationEvent(r.Header.Get("Content-Type"), body)
	if err != nil {
		log.Warn("rejecting translation event", "error", err)
		s.reply(w, hookTransifex, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.syncer.Pull(context.WithoutCancel(r.Context()), ev)
	if err != nil {
		log.Error("reverse sync failed", "project", ev.Project, "resource", ev.Resource, "language", ev.Language, "error", err)
		s.reply(w, hookTransifex, statusFor(err), err.Error())
		return
	}

	if result.Skipped {
		s.replySkipped(w, hookTransifex, "Source language is not synced back")
		return
	}
	s.reply(w, hookTransifex, http.StatusOK, fmt.Sprintf("Committed %s to %s", result.Path, result.Branch))
}

// verifySignature verifies the GitHub webhook signature
func (s *Server) verifySignature(body []byte, signature string) bool {
	// GitHub signature format: sha256=<hex>
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || hexSig == "" {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(hexSig), []byte(expected))
}

// isRefAllowed checks if the ref is in the allowed list
func (s *Server) isRefAllowed(ref string) bool {
	if len(s.cfg.Serve.AllowedRefs) == 0 {
		return true // no filter configured
	}
	return slices.Contains(s.cfg.Serve.AllowedRefs, ref)
}

// lockBranch serializes pushes to the same branch so that concurrent
// deliveries do not interleave writes to the same Transifex resources.
func (s *Server) lockBranch(key string) func() {
	s.branchMu.Lock()
	l, ok := s.branches[key]
	if !ok {
		l = &branchLock{}
		s.branches[key] = l
	}
	l.refs++
	s.branchMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.branchMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.branches, key)
		}
		s.branchMu.Unlock()
	}
}

func (s *Server) reply(w http.ResponseWriter, hook string, status int, msg string) {
	result := metrics.ResultOK
	if status >= http.StatusBadRequest {
		result = metrics.ResultError
	}
	s.metrics.Webhook(hook, result)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintln(w, msg)
}

func (s *Server) replySkipped(w http.ResponseWriter, hook, msg string) {
	s.metrics.Webhook(hook, metrics.ResultSkipped)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintln(w, msg)
}

// statusFor maps a sync error to the HTTP status reported to the sender
func statusFor(err error) int {
	switch {
	case errors.Is(err, l10nsync.ErrMalformedPayload):
		return http.StatusBadRequest
	case errors.Is(err, l10nsync.ErrUnresolvable):
		var opErr *l10nsync.OpError
		if errors.As(err, &opErr) {
			// A file missing during execution is a failed operation, not an
			// unknown webhook target.
			return http.StatusBadGateway
		}
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// formPayload returns the JSON document of a request body. GitHub sends it
// either raw or as the "payload" field of a urlencoded form.
func formPayload(contentType string, body []byte) ([]byte, error) {
	if !isForm(contentType) {
		return body, nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	payload := values.Get("payload")
	if payload == "" {
		return nil, errors.New("form has no payload field")
	}
	return []byte(payload), nil
}

// parseTranslationEvent accepts Transifex's form-encoded notification as well
// as a JSON body with the same fields.
func parseTranslationEvent(contentType string, body []byte) (*l10nsync.TranslationEvent, error) {
	var ev l10nsync.TranslationEvent
	if isForm(contentType) {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", l10nsync.ErrMalformedPayload, err)
		}
		ev.Project = values.Get("project")
		ev.Resource = values.Get("resource")
		ev.Language = values.Get("language")
	} else if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", l10nsync.ErrMalformedPayload, err)
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

func isForm(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
