// Package handlers defines the HTTP-layer error codes used across all API
// endpoints. Codes are lowercase snake_case; generic codes mirror common
// HTTP status semantics, domain-specific codes cover business failures that
// a status alone cannot convey. Handlers pick the most specific code and
// pass it to fail() together with the status and a human-readable message.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotConnected     = "not_connected"     // no valid platform connection for this creator
	ErrCodeConnectFailed    = "connect_failed"    // OAuth flow could not be started or completed
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeUpdateFailed     = "update_failed"
	ErrCodeSendFailed       = "send_failed"       // outbound platform message was rejected
	ErrCodeSyncFailed       = "sync_failed"
	ErrCodePlatformError    = "platform_error"    // upstream platform API returned an error
	ErrCodeGenerationFailed = "generation_failed" // AI provider could not produce a reply
)
