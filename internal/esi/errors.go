package esi

import (
	"errors"
	"net/http"

	"github.com/lumacorp/industry-exporter/internal/httpclient"
)

// IsNotFound reports whether err is an upstream 404. Paginated endpoints
// answer 404 past the last page, so callers treat this as end-of-pages.
func IsNotFound(err error) bool {
	var se *httpclient.StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// IsAuthError reports whether err is an upstream 401 or 403.
func IsAuthError(err error) bool {
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}
