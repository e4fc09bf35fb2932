package feed

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps any failure to read from or write to the post store.
	ErrStoreUnavailable = errors.New("post store unavailable")
	// ErrPostNotFound is returned by single post lookups.
	ErrPostNotFound = errors.New("post not found")
	// ErrEmptyContent rejects posts whose content is blank after sanitizing.
	ErrEmptyContent = &ValidationError{Field: "content", Message: "empty content"}
)

// ValidationError reports a malformed write request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func storeUnavailable(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
