package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload marks webhook bodies missing required fields.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrUnresolvable marks references to repositories, projects, resources
	// or files the configuration or tree does not know about.
	ErrUnresolvable = errors.New("unresolvable reference")
	// ErrDecode marks blobs whose encoding cannot be decoded.
	ErrDecode = errors.New("decode failure")
)

// Op names an external operation performed for one resource
type Op string

const (
	OpUpdateSource      Op = "update-source"
	OpUploadTranslation Op = "upload-translation"
	OpCommitTranslation Op = "commit-translation"
)

// OpError ties a failure to the resource and operation it happened in
type OpError struct {
	Resource string
	Language string
	Op       Op
	Err      error
}

func (e *OpError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Resource, e.Language, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
