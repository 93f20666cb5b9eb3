package sync

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/schaermu/l10nsync/internal/github"
)

const defaultCacheSize = 256

// CachedRepository memoizes commit and tree lookups for the lifetime of one
// webhook invocation. It is safe for concurrent use; concurrent misses for
// the same key share a single fetch.
type CachedRepository struct {
	github.Client
	commits *lru.Cache[string, *github.Commit]
	trees   *lru.Cache[string, *github.Tree]
	group   singleflight.Group
}

// NewCachedRepository wraps client with caches holding up to size entries each
func NewCachedRepository(client github.Client, size int) *CachedRepository {
	if size <= 0 {
		size = defaultCacheSize
	}
	// lru.New only fails for non-positive sizes.
	commits, _ := lru.New[string, *github.Commit](size)
	trees, _ := lru.New[string, *github.Tree](size)
	return &CachedRepository{Client: client, commits: commits, trees: trees}
}

// GetCommit returns the cached commit or fetches it
func (c *CachedRepository) GetCommit(ctx context.Context, repo, sha string) (*github.Commit, error) {
	key := repo + "@" + sha
	if commit, ok := c.commits.Get(key); ok {
		return commit, nil
	}
	v, err, _ := c.group.Do("commit:"+key, func() (any, error) {
		if commit, ok := c.commits.Get(key); ok {
			return commit, nil
		}
		commit, err := c.Client.GetCommit(ctx, repo, sha)
		if err != nil {
			return nil, err
		}
		c.commits.Add(key, commit)
		return commit, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*github.Commit), nil
}

// GetTree returns the cached tree or fetches it
func (c *CachedRepository) GetTree(ctx context.Context, repo, sha string) (*github.Tree, error) {
	key := repo + "@" + sha
	if tree, ok := c.trees.Get(key); ok {
		return tree, nil
	}
	v, err, _ := c.group.Do("tree:"+key, func() (any, error) {
		if tree, ok := c.trees.Get(key); ok {
			return tree, nil
		}
		tree, err := c.Client.GetTree(ctx, repo, sha)
		if err != nil {
			return nil, err
		}
		c.trees.Add(key, tree)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*github.Tree), nil
}

// TreeAt returns the tree listing of a commit
func (c *CachedRepository) TreeAt(ctx context.Context, repo, commitID string) (*github.Tree, error) {
	commit, err := c.GetCommit(ctx, repo, commitID)
	if err != nil {
		return nil, err
	}
	return c.GetTree(ctx, repo, commit.TreeSHA())
}
