package sync

import (
	"context"
	"fmt"
)

// Kind classifies a push
type Kind int

const (
	// Incremental is an ordinary sequence of commits, resolved from their
	// modified-file lists.
	Incremental Kind = iota
	// InitialBranch is the first push of a new branch; it carries no commits.
	InitialBranch
	// Merge is a push whose head commit has more than one parent.
	Merge
)

func (k Kind) String() string {
	switch k {
	case Incremental:
		return "incremental"
	case InitialBranch:
		return "initial-branch"
	case Merge:
		return "merge"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FullScan reports whether the push must be resolved by scanning the head
// commit's tree instead of the modified-file lists.
func (k Kind) FullScan() bool {
	return k == InitialBranch || k == Merge
}

// Classify labels a push. An empty commit list is always InitialBranch and
// issues no fetch; otherwise the head commit metadata decides between Merge
// and Incremental.
func Classify(ctx context.Context, repo *CachedRepository, repoName string, ev *PushEvent) (Kind, error) {
	if len(ev.Commits) == 0 {
		return InitialBranch, nil
	}
	if ev.HeadCommit == nil {
		return Incremental, nil
	}
	head, err := repo.GetCommit(ctx, repoName, ev.HeadCommit.ID)
	if err != nil {
		return Incremental, fmt.Errorf("classify push: %w", err)
	}
	if head.IsMerge() {
		return Merge, nil
	}
	return Incremental, nil
}
