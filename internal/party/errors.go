package party

import (
	"errors"
	"net/http"
)

// Error kinds exposed to clients alongside the HTTP status.
const (
	KindNotFound         = "not_found"
	KindPermissionDenied = "permission_denied"
	KindConflict         = "conflict"
	KindInvalid          = "invalid"
	KindUnavailable      = "unavailable"
	KindInternal         = "internal"
)

type apiError struct {
	status int
	kind   string
	msg    string
}

func (e *apiError) Error() string {
	return e.msg
}

func errNotFound(msg string) error {
	return &apiError{status: http.StatusNotFound, kind: KindNotFound, msg: msg}
}

func errPermissionDenied(msg string) error {
	return &apiError{status: http.StatusForbidden, kind: KindPermissionDenied, msg: msg}
}

func errConflict(msg string) error {
	return &apiError{status: http.StatusConflict, kind: KindConflict, msg: msg}
}

func errInvalid(msg string) error {
	return &apiError{status: http.StatusBadRequest, kind: KindInvalid, msg: msg}
}

// ErrorKind reports the client-facing kind for err, or KindInternal for
// anything that is not an apiError.
func ErrorKind(err error) string {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.kind
	}
	return KindInternal
}
