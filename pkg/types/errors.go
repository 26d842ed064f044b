package types

import "errors"

// Sentinel errors for injection operations. Wrap them with fmt.Errorf("...: %w")
// and check them with errors.Is().
var (
	// ErrTrackNotFound indicates a track id unknown to the change-tracking system
	ErrTrackNotFound = errors.New("track not found")

	// ErrPathInvalid indicates a resolved source path that does not exist
	ErrPathInvalid = errors.New("source path does not exist")

	// ErrFileNotFound indicates a target path not present in a request
	ErrFileNotFound = errors.New("file not found in request")

	// ErrRequestNotFound indicates an unknown injection request id
	ErrRequestNotFound = errors.New("injection request not found")

	// ErrDuplicateFile indicates a target path active in more than one request
	ErrDuplicateFile = errors.New("duplicate target file")

	// ErrDispatchFailure indicates the descriptor could not be written or the runner not launched
	ErrDispatchFailure = errors.New("build dispatch failed")

	// ErrStatusReadFailure indicates a status file that could not be read or parsed
	ErrStatusReadFailure = errors.New("status read failed")

	// ErrUpstreamUpdateFailure indicates the change-tracking record could not be updated
	ErrUpstreamUpdateFailure = errors.New("upstream update failed")

	// ErrNotConfirmed indicates an operation that requires explicit operator confirmation
	ErrNotConfirmed = errors.New("operation not confirmed")

	// ErrLocationUnset indicates a patch without a target location
	ErrLocationUnset = errors.New("target location not set")

	// ErrInvalidState indicates an illegal patch state transition
	ErrInvalidState = errors.New("invalid patch state")
)
