package social

import "fmt"

// FetchKind classifies mention-fetch failures for the scheduler's backoff
// policy.
type FetchKind string

const (
	FetchRateLimited  FetchKind = "RATE_LIMITED"
	FetchNetworkError FetchKind = "NETWORK_ERROR"
	FetchUnknown      FetchKind = "UNKNOWN"
)

// FetchError wraps a failed mention fetch with its classification.
type FetchError struct {
	Kind       FetchKind
	StatusCode int // HTTP status, zero for transport failures
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch mentions (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch mentions (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ReplyError wraps a failed reply post. Replies are best-effort: the
// underlying payment outcome is already final when one occurs.
type ReplyError struct {
	StatusCode int
	Err        error
}

func (e *ReplyError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("post reply (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("post reply: %v", e.Err)
}

func (e *ReplyError) Unwrap() error { return e.Err }
