// Package handlers defines HTTP-layer error codes used across the admin API.
//
// Codes are lowercase snake_case and stable: clients branch on them for
// programmatic error handling, so they must never change meaning. Handlers
// pick the most specific matching code and pass it to fail() together with
// the HTTP status and a human-readable message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeAlreadySettled   = "already_settled"
	ErrCodeSubmitFailed     = "submit_failed"
	ErrCodeListFailed       = "list_failed"
)
