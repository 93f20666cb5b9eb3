package transifex

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/schaermu/l10nsync/internal/l10n"
)

// Client provides the translation-service operations used by the sync core
type Client interface {
	// DownloadTranslation fetches the current translation of a resource
	DownloadTranslation(ctx context.Context, res *l10n.Resource, lang, branch string) ([]byte, error)
	// UploadTranslation replaces the translation of a resource for lang
	UploadTranslation(ctx context.Context, res *l10n.Resource, lang string, content []byte, branch string) error
	// UpdateSourceContent replaces the source strings of a resource,
	// creating the branch-qualified resource when it does not exist yet
	UpdateSourceContent(ctx context.Context, res *l10n.Resource, content []byte, branch string) error
}

// RESTClient implements Client against the Transifex API v2
type RESTClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewRESTClient creates a client authenticating with basic auth
func NewRESTClient(baseURL, username, password string, timeout time.Duration, logger *slog.Logger) *RESTClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetBasicAuth(username, password)
	return &RESTClient{http: c, logger: logger}
}

type contentBody struct {
	Content string `json:"content"`
}

func resourcePath(res *l10n.Resource, branch string) string {
	return fmt.Sprintf("/api/2/project/%s/resource/%s", res.ProjectSlug, res.Slug(branch))
}

// DownloadTranslation fetches the translation content for lang
func (c *RESTClient) DownloadTranslation(ctx context.Context, res *l10n.Resource, lang, branch string) ([]byte, error) {
	var body contentBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(resourcePath(res, branch) + "/translation/" + lang + "/")
	if err != nil {
		return nil, fmt.Errorf("download %s translation of %s: %w", lang, res.Slug(branch), err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download %s translation of %s: %w", lang, res.Slug(branch), apiError(resp))
	}
	return []byte(body.Content), nil
}

// UploadTranslation replaces the translation content for lang
func (c *RESTClient) UploadTranslation(ctx context.Context, res *l10n.Resource, lang string, content []byte, branch string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(contentBody{Content: string(content)}).
		Put(resourcePath(res, branch) + "/translation/" + lang + "/")
	if err != nil {
		return fmt.Errorf("upload %s translation of %s: %w", lang, res.Slug(branch), err)
	}
	if resp.IsError() {
		return fmt.Errorf("upload %s translation of %s: %w", lang, res.Slug(branch), apiError(resp))
	}
	return nil
}

// UpdateSourceContent replaces the source content, creating the resource first
// when it is missing (a push to a new branch yields a new branch-qualified slug)
func (c *RESTClient) UpdateSourceContent(ctx context.Context, res *l10n.Resource, content []byte, branch string) error {
	exists, err := c.resourceExists(ctx, res, branch)
	if err != nil {
		return err
	}
	if !exists {
		return c.createResource(ctx, res, content, branch)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(contentBody{Content: string(content)}).
		Put(resourcePath(res, branch) + "/content/")
	if err != nil {
		return fmt.Errorf("update source of %s: %w", res.Slug(branch), err)
	}
	if resp.IsError() {
		return fmt.Errorf("update source of %s: %w", res.Slug(branch), apiError(resp))
	}
	return nil
}

func (c *RESTClient) resourceExists(ctx context.Context, res *l10n.Resource, branch string) (bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get(resourcePath(res, branch) + "/")
	if err != nil {
		return false, fmt.Errorf("look up resource %s: %w", res.Slug(branch), err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return false, nil
	case resp.IsError():
		return false, fmt.Errorf("look up resource %s: %w", res.Slug(branch), apiError(resp))
	}
	return true, nil
}

func (c *RESTClient) createResource(ctx context.Context, res *l10n.Resource, content []byte, branch string) error {
	slug := res.Slug(branch)
	c.logger.Info("creating transifex resource", "project", res.ProjectSlug, "resource", slug)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"slug":      slug,
			"name":      slug,
			"i18n_type": res.Type,
			"content":   string(content),
		}).
		Post(fmt.Sprintf("/api/2/project/%s/resources/", res.ProjectSlug))
	if err != nil {
		return fmt.Errorf("create resource %s: %w", slug, err)
	}
	if resp.IsError() {
		return fmt.Errorf("create resource %s: %w", slug, apiError(resp))
	}
	return nil
}

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transifex api: %s: %s", e.Status, e.Body)
}

func apiError(resp *resty.Response) error {
	return &APIError{StatusCode: resp.StatusCode(), Status: resp.Status(), Body: strings.TrimSpace(resp.String())}
}
