package jobs

import "errors"

var (
	ErrForcedFailure = errors.New("forced failure")
	ErrUnknownKind   = errors.New("unknown job kind")
	ErrInvalidDelay  = errors.New("invalid start delay")
	ErrEmptyManifest = errors.New("manifest has no jobs")
)
