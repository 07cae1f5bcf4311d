package metadata

import (
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

var (
	// ErrStoreUnavailable indicates a transient store failure; callers may
	// retry with backoff.
	ErrStoreUnavailable = errors.New("metadata store unavailable")

	// ErrUnknownDocument is returned when a content item references a
	// document that does not exist.
	ErrUnknownDocument = errors.New("unknown document")

	// ErrDuplicateContent is returned when a document's content hash
	// already exists. Use AsDuplicate to recover the existing id.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrInvalidItem indicates a content item violating a model invariant.
	ErrInvalidItem = errors.New("invalid content item")
)

// DuplicateContentError carries the id of the already-stored document so
// callers can de-duplicate without a second lookup.
type DuplicateContentError struct {
	ExistingID string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate content: document %s already exists", e.ExistingID)
}

// Is makes errors.Is(err, ErrDuplicateContent) hold.
func (e *DuplicateContentError) Is(target error) bool {
	return target == ErrDuplicateContent
}

// AsDuplicate extracts the existing document id from a duplicate-content
// error, if err is one.
func AsDuplicate(err error) (string, bool) {
	var dup *DuplicateContentError
	if errors.As(err, &dup) {
		return dup.ExistingID, true
	}
	return "", false
}

// Postgres error classes treated as transient.
const (
	pqClassConnection   = "08"
	pqClassResources    = "53"
	pqClassIntervention = "57"
)

// classify wraps transient failures with ErrStoreUnavailable so the
// retrieval engine can retry them; everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case pqClassConnection, pqClassResources, pqClassIntervention:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return err
}
