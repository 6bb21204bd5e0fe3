package catalog

import "errors"

var (
	// ErrRemoteUnavailable indicates the remote catalog client could not be
	// constructed or the backend reported a transient outage.
	ErrRemoteUnavailable = errors.New("catalog: remote store unavailable")
	// ErrQueryFailed indicates the remote category query failed.
	ErrQueryFailed = errors.New("catalog: remote query failed")
	// ErrStaticUnavailable indicates the static fallback document could not be read or parsed.
	ErrStaticUnavailable = errors.New("catalog: static source unavailable")
)
