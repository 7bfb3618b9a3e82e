package authority

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Workwrite-Niidome/genesis-sub001/internal/protocol"
)

var (
	// ErrNetwork: the request never completed (transport failure, timeout, cancel).
	ErrNetwork = errors.New("authority unreachable")
	// ErrRejected: the authority answered and refused the request.
	ErrRejected = errors.New("authority rejected request")
	// ErrAuthMissing: no credential is available for a mutating call, or it was refused.
	ErrAuthMissing = errors.New("no credential for mutating call")
	// ErrStaleReference: a delta or patch named an entity or structure the mirror does not know.
	ErrStaleReference = errors.New("stale reference")
)

// RejectedError carries the authority's explanation for a refused request.
type RejectedError struct {
	Status int
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rejected status=%d code=%s", e.Status, e.Code)
	}
	return fmt.Sprintf("rejected status=%d code=%s: %s", e.Status, e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// codeForStatus fills in a rejection code when the body carries none.
func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return protocol.ErrBadRequest
	case status == http.StatusForbidden:
		return protocol.ErrNoPermission
	case status == http.StatusNotFound:
		return protocol.ErrInvalidTarget
	case status == http.StatusConflict:
		return protocol.ErrConflict
	case status == http.StatusTooManyRequests:
		return protocol.ErrRateLimit
	case status >= 500:
		return protocol.ErrInternal
	default:
		return protocol.ErrBadRequest
	}
}
