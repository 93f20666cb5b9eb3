package sync

import (
	"encoding/json"
	"fmt"
	"strings"
)

const branchRefPrefix = "refs/heads/"

// PushEvent represents the relevant fields from a GitHub push webhook
type PushEvent struct {
	Ref        string       `json:"ref"`
	Deleted    bool         `json:"deleted"`
	Commits    []PushCommit `json:"commits"`
	HeadCommit *PushCommit  `json:"head_commit"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Name  string `json:"name"`
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// PushCommit is one commit of a push
type PushCommit struct {
	ID       string   `json:"id"`
	Modified []string `json:"modified"`
}

// ParsePushEvent decodes and validates a push payload
func ParsePushEvent(data []byte) (*PushEvent, error) {
	var ev PushEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Validate checks the fields resolution depends on
func (e *PushEvent) Validate() error {
	if e.Ref == "" {
		return fmt.Errorf("%w: ref is required", ErrMalformedPayload)
	}
	if !strings.HasPrefix(e.Ref, branchRefPrefix) || e.Branch() == "" {
		return fmt.Errorf("%w: ref %q is not a branch", ErrMalformedPayload, e.Ref)
	}
	if e.RepoName() == "" {
		return fmt.Errorf("%w: repository name is required", ErrMalformedPayload)
	}
	if e.Deleted {
		return nil
	}
	if e.HeadCommit == nil || e.HeadCommit.ID == "" {
		if len(e.Commits) == 0 {
			return fmt.Errorf("%w: head_commit is required for a push without commits", ErrMalformedPayload)
		}
		e.HeadCommit = nil
	}
	for i, c := range e.Commits {
		if c.ID == "" {
			return fmt.Errorf("%w: commits[%d].id is required", ErrMalformedPayload, i)
		}
	}
	return nil
}

// Branch returns the branch name the push targets
func (e *PushEvent) Branch() string {
	return strings.TrimPrefix(e.Ref, branchRefPrefix)
}

// RepoName returns the owner/name of the pushed repository
func (e *PushEvent) RepoName() string {
	if e.Repository.FullName != "" {
		return e.Repository.FullName
	}
	owner := e.Repository.Owner.Name
	if owner == "" {
		owner = e.Repository.Owner.Login
	}
	if owner == "" || e.Repository.Name == "" {
		return ""
	}
	return owner + "/" + e.Repository.Name
}

// TranslationEvent is a Transifex translation-completed notification
type TranslationEvent struct {
	Project  string `json:"project"`
	Resource string `json:"resource"`
	Language string `json:"language"`
}

// Validate checks that all fields are present
func (e *TranslationEvent) Validate() error {
	switch {
	case e.Project == "":
		return fmt.Errorf("%w: project is required", ErrMalformedPayload)
	case e.Resource == "":
		return fmt.Errorf("%w: resource is required", ErrMalformedPayload)
	case e.Language == "":
		return fmt.Errorf("%w: language is required", ErrMalformedPayload)
	}
	return nil
}
