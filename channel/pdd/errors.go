package pdd

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced by the client.
var (
	// ErrSessionExpired means the platform rejected the credential bundle.
	// The client refreshes once and retries before returning this.
	ErrSessionExpired = errors.New("session expired")

	// ErrRateLimited means the platform throttled the call and retries
	// were exhausted.
	ErrRateLimited = errors.New("rate limited")
)

// sessionExpiredCode is the platform error code paired with the
// "会话已过期" message on an expired credential bundle.
const sessionExpiredCode = 43001

// RemoteError is a non-success platform response.
type RemoteError struct {
	Endpoint  string
	Status    int
	ErrorCode int
	ErrorMsg  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("pdd: %s failed: status=%d error_code=%d error_msg=%q",
		e.Endpoint, e.Status, e.ErrorCode, e.ErrorMsg)
}

// IsSessionExpired reports whether the response is the platform's expired
// credential signal.
func (e *RemoteError) IsSessionExpired() bool {
	return e.ErrorCode == sessionExpiredCode && strings.Contains(e.ErrorMsg, "会话已过期")
}

// DecodeError wraps a websocket frame that could not be parsed.
type DecodeError struct {
	Reason string
	Frame  []byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pdd: decode frame: %s", e.Reason)
}
