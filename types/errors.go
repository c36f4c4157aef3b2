package types

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMediaKind = errors.New("unsupported media kind")
	ErrExtraction           = errors.New("text extraction failed")
	ErrMetadataParse        = errors.New("metadata did not match the expected schema")
	ErrRemoteService        = errors.New("remote service failure")
	ErrEntityNotFound       = errors.New("entity not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidID            = errors.New("invalid id")
)

// IndexingError reports a digest whose facets could not be uploaded after its
// content was already saved.
type IndexingError struct {
	ContentID string
	DigestID  string
	Err       error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing content %s digest %s: %v", e.ContentID, e.DigestID, e.Err)
}

func (e *IndexingError) Unwrap() error {
	return e.Err
}

// Remote wraps a failed external call as ErrRemoteService.
func Remote(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrRemoteService) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrRemoteService, service, err)
}

func NotFound(resource, id string) error {
	return fmt.Errorf("%w: %s %s", ErrEntityNotFound, resource, id)
}
