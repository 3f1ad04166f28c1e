package errors

import (
	"net/http"
)

// HTTPStatusCode returns the HTTP status code a service exposing the cacher
// should answer with for the given error:
//   - NotFoundError -> 404 Not Found
//   - InvalidInputError -> 400 Bad Request
//   - TemporaryError -> 503 Service Unavailable
//   - ConfigurationError -> 500 Internal Server Error
//   - PermanentError -> 500 Internal Server Error
//   - Unknown errors -> 500 Internal Server Error
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTemporary(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTPError writes err as a plain-text response with the status code
// chosen by HTTPStatusCode. A nil error writes nothing.
func WriteHTTPError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	http.Error(w, err.Error(), HTTPStatusCode(err))
}
