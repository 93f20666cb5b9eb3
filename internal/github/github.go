package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client provides the repository operations used by the sync core
type Client interface {
	// GetCommit fetches commit metadata, including parents and root tree
	GetCommit(ctx context.Context, repo, sha string) (*Commit, error)
	// GetTree fetches the recursive tree listing for a tree sha
	GetTree(ctx context.Context, repo, sha string) (*Tree, error)
	// GetBlob fetches a blob's encoded content
	GetBlob(ctx context.Context, repo, sha string) (*Blob, error)
	// CommitFile creates or updates path on ref ("heads/<branch>") and
	// returns the new commit sha
	CommitFile(ctx context.Context, repo, ref, path string, content []byte, message string) (string, error)
}

// Commit is the subset of a commit object the sync core needs
type Commit struct {
	SHA     string      `json:"sha"`
	Parents []CommitRef `json:"parents"`
	Commit  struct {
		Tree CommitRef `json:"tree"`
	} `json:"commit"`
}

// CommitRef references a git object by sha
type CommitRef struct {
	SHA string `json:"sha"`
}

// TreeSHA returns the sha of the commit's root tree
func (c *Commit) TreeSHA() string {
	return c.Commit.Tree.SHA
}

// IsMerge reports whether the commit has more than one parent
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Tree is a tree listing
type Tree struct {
	SHA       string      `json:"sha"`
	Entries   []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// TreeEntry is one path in a tree listing
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
	Type string `json:"type,omitempty"`
	SHA  string `json:"sha"`
}

// Find returns the blob entry at path
func (t *Tree) Find(path string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Path == path && (e.Type == "" || e.Type == "blob") {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Blob encodings reported by the API
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// Blob is a file's content as returned by the API
type Blob struct {
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// Decode returns the raw blob content according to its encoding tag
func (b *Blob) Decode() ([]byte, error) {
	switch strings.ToLower(b.Encoding) {
	case EncodingUTF8:
		return []byte(b.Content), nil
	case EncodingBase64:
		// The API wraps base64 content at 60 columns.
		data, err := base64.StdEncoding.DecodeString(strings.NewReplacer("\n", "", "\r", "").Replace(b.Content))
		if err != nil {
			return nil, fmt.Errorf("decode base64 blob %s: %w", b.SHA, err)
		}
		return data, nil
	default:
		return nil, &UnknownEncodingError{SHA: b.SHA, Encoding: b.Encoding}
	}
}

// UnknownEncodingError is returned when a blob declares an unsupported encoding
type UnknownEncodingError struct {
	SHA      string
	Encoding string
}

func (e *UnknownEncodingError) Error() string {
	return fmt.Sprintf("blob %s has unsupported encoding %q", e.SHA, e.Encoding)
}

// RESTClient implements Client against the GitHub REST API
type RESTClient struct {
	http *resty.Client
}

// NewRESTClient creates a client for baseURL authenticating with token (may be empty)
func NewRESTClient(baseURL, token string, timeout time.Duration) *RESTClient {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &RESTClient{http: c}
}

// GetCommit fetches commit metadata
func (c *RESTClient) GetCommit(ctx context.Context, repo, sha string) (*Commit, error) {
	var commit Commit
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/commits/%s", repo, sha), nil, &commit); err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	return &commit, nil
}

// GetTree fetches the recursive tree listing for sha
func (c *RESTClient) GetTree(ctx context.Context, repo, sha string) (*Tree, error) {
	var tree Tree
	query := map[string]string{"recursive": "1"}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/git/trees/%s", repo, sha), query, &tree); err != nil {
		return nil, fmt.Errorf("get tree %s: %w", sha, err)
	}
	return &tree, nil
}

// GetBlob fetches a blob
func (c *RESTClient) GetBlob(ctx context.Context, repo, sha string) (*Blob, error) {
	var blob Blob
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/git/blobs/%s", repo, sha), nil, &blob); err != nil {
		return nil, fmt.Errorf("get blob %s: %w", sha, err)
	}
	return &blob, nil
}

// CommitFile writes content to path on ref through the git data API:
// blob -> current ref -> base tree -> new tree -> commit -> ref update.
func (c *RESTClient) CommitFile(ctx context.Context, repo, ref, path string, content []byte, message string) (string, error) {
	var blob CommitRef
	err := c.post(ctx, fmt.Sprintf("/repos/%s/git/blobs", repo), map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": EncodingBase64,
	}, &blob)
	if err != nil {
		return "", fmt.Errorf("create blob for %s: %w", path, err)
	}

	var head struct {
		Object CommitRef `json:"object"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/git/ref/%s", repo, ref), nil, &head); err != nil {
		return "", fmt.Errorf("get ref %s: %w", ref, err)
	}

	var parent struct {
		Tree CommitRef `json:"tree"`
	}
	if err := c.get(ctx, fmt.Sprintf("/repos/%s/git/commits/%s", repo, head.Object.SHA), nil, &parent); err != nil {
		return "", fmt.Errorf("get commit %s: %w", head.Object.SHA, err)
	}

	var tree CommitRef
	err = c.post(ctx, fmt.Sprintf("/repos/%s/git/trees", repo), map[string]any{
		"base_tree": parent.Tree.SHA,
		"tree": []TreeEntry{{
			Path: path,
			Mode: "100644",
			Type: "blob",
			SHA:  blob.SHA,
		}},
	}, &tree)
	if err != nil {
		return "", fmt.Errorf("create tree for %s: %w", path, err)
	}

	var commit CommitRef
	err = c.post(ctx, fmt.Sprintf("/repos/%s/git/commits", repo), map[string]any{
		"message": message,
		"tree":    tree.SHA,
		"parents": []string{head.Object.SHA},
	}, &commit)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"sha": commit.SHA}).
		Patch(fmt.Sprintf("/repos/%s/git/refs/%s", repo, ref))
	if err != nil {
		return "", fmt.Errorf("update ref %s: %w", ref, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("update ref %s: %w", ref, apiError(resp))
	}

	return commit.SHA, nil
}

func (c *RESTClient) get(ctx context.Context, url string, query map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(out).
		Get(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, url string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		Post(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return apiError(resp)
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
	return fmt.Sprintf("github api: %s: %s", e.Status, e.Body)
}

func apiError(resp *resty.Response) error {
	return &APIError{StatusCode: resp.StatusCode(), Status: resp.Status(), Body: strings.TrimSpace(resp.String())}
}
