package daemon

import (
	"net/http"
	"regexp"

	"clipstitch/internal/api"
	"clipstitch/internal/services"
)

var statusByKind = map[string]int{
	"validation":            http.StatusBadRequest,
	"preset_not_found":      http.StatusBadRequest,
	"size_mismatch":         http.StatusBadRequest,
	"integrity":             http.StatusUnprocessableEntity,
	"unprocessable_media":   http.StatusUnprocessableEntity,
	"not_found":             http.StatusNotFound,
	"invalid_state":         http.StatusConflict,
	"incomplete":            http.StatusConflict,
	"incomplete_merge_set":  http.StatusConflict,
	"quota_exceeded":        http.StatusTooManyRequests,
	"range_not_satisfiable": http.StatusRequestedRangeNotSatisfiable,
	"insufficient_storage":  http.StatusInsufficientStorage,
}

// absolutePath matches filesystem paths that follow whitespace, a quote, or
// an opening bracket.
var absolutePath = regexp.MustCompile(`(^|[\s"'(\[])/[^\s"')\]]+`)

// errorResponse maps a classified error to a status code and a body that
// never carries filesystem paths. Server-side failures expose only the kind.
func errorResponse(err error) (int, api.ErrorResponse) {
	kind := services.ErrorKind(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := api.ErrorResponse{Error: kind}
	if status >= http.StatusInternalServerError {
		body.Message = http.StatusText(status)
	} else {
		body.Message = scrubPaths(err.Error())
	}
	if slot, ok := services.SlotFromError(err); ok {
		body.Slot = &slot
	}
	return status, body
}

func scrubPaths(message string) string {
	return absolutePath.ReplaceAllString(message, "${1}<path>")
}
