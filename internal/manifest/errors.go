package manifest

import "errors"

// ErrConflictRetry is returned by ApplySliceResult when coverage.version
// has moved since the caller last read it. The caller must re-read
// get_stream and retry (spec.md §4.1).
var ErrConflictRetry = errors.New("manifest: coverage version conflict, retry")

// ErrNotFound is returned by GetStream when the manifest id does not
// exist or has been soft-deleted past its purge point.
var ErrNotFound = errors.New("manifest: stream not found")

// ErrLeaseOwnerMismatch is returned by ReleaseLease when the calling
// worker does not hold the lease it is trying to release.
var ErrLeaseOwnerMismatch = errors.New("manifest: lease owner mismatch")

// ErrNoLeaseAvailable is returned by AcquireLease when there is no
// queued gap and no expired lease to steal.
var ErrNoLeaseAvailable = errors.New("manifest: no lease available")
