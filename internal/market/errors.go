package market

import "errors"

// Sentinel errors classifying upstream failures. Callers match with
// errors.Is; the HTTP layer maps them to response codes.
var (
	// ErrNotFound means the item does not exist upstream (404).
	ErrNotFound = errors.New("item not found")

	// ErrRateLimited means the upstream rejected the request with 429
	// after all retries were exhausted.
	ErrRateLimited = errors.New("rate limited by upstream")

	// ErrUpstream means the upstream returned a server error or was
	// unreachable after all retries.
	ErrUpstream = errors.New("upstream unavailable")

	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrParse means the response body could not be decoded into the
	// expected shape.
	ErrParse = errors.New("malformed upstream response")
)
