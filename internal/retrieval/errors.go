package retrieval

import "errors"

var (
	// ErrInvalidRequest means the caller's input failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound means the named document or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable means every modality search failed, or the
	// metadata store is down.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
