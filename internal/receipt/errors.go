package receipt

import (
	"errors"
	"fmt"
)

// Error kinds shared by every receipt operation. Callers branch with
// errors.Is; messages wrapped alongside a kind are for operators, not for
// control flow.
var (
	// ErrInvalidInput - the upload is missing, empty, or not an image.
	// Raised before any external call is made.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthenticated - the identity token is missing or failed verification
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden - the caller is authenticated but does not own the receipt
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound - no receipt exists with the requested ID
	ErrNotFound = errors.New("receipt not found")

	// ErrExtractionFailed - the AI provider failed or returned an unusable
	// response. Nothing has been persisted when this is raised, so the
	// caller may safely retry.
	ErrExtractionFailed = errors.New("extraction failed")

	// Object store failures. These indicate misconfiguration rather than
	// transient load and are not retried.
	ErrStoreUnavailable      = errors.New("object store unavailable: check that the bucket exists")
	ErrStorePermissionDenied = errors.New("object store permission denied: check the store credentials and bucket policy")
	ErrStoreIO               = errors.New("object store i/o error")

	// Metadata store failures.
	ErrMetadataUnavailable      = errors.New("metadata store unavailable")
	ErrMetadataPermissionDenied = errors.New("metadata store permission denied")
	ErrQueryUnsupported         = errors.New("metadata store cannot serve the ordered query: a composite index is required")
)

// wrapKind tags cause with an error kind so both errors.Is branching and the
// underlying diagnostic survive.
func wrapKind(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
