package protocol

// Rejection codes the authority may attach to a refused building request.
const (
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrOutOfBounds   = "E_OUT_OF_BOUNDS"
	ErrOccupied      = "E_OCCUPIED"
	ErrEmpty         = "E_EMPTY"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrConflict      = "E_CONFLICT"
	ErrUnauthorized  = "E_UNAUTHORIZED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:    {},
	ErrNoPermission:  {},
	ErrInvalidTarget: {},
	ErrOutOfBounds:   {},
	ErrOccupied:      {},
	ErrEmpty:         {},
	ErrRateLimit:     {},
	ErrConflict:      {},
	ErrUnauthorized:  {},
	ErrInternal:      {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// RejectionDTO is the body of a non-2xx building response.
type RejectionDTO struct {
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}
