// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the error
// envelope built by fail(). Clients (the voice platform's retry logic and the
// admin dashboard) branch on them instead of on message text.
//
// Generic codes mirror HTTP status semantics. Domain codes name the admin
// operation that failed so the dashboard can tell "the search broke" from
// "the search found nothing".
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "call_id: is required"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodePayloadTooLarge  = "payload_too_large"
	ErrCodeInternal         = "internal_error"

	// Webhooks:
	ErrCodeValidation  = "validation_failed"
	ErrCodeUnavailable = "unavailable"

	// Admin:
	ErrCodeSearchFailed   = "search_failed"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeExportFailed   = "export_failed"
	ErrCodeStatsFailed    = "stats_failed"
	ErrCodeTemplateFailed = "template_failed"
)
