package handlers

import (
	"fmt"
	"net/http"

	"github.com/wsshrelay/wsshrelay/internal/logutil"
)

// Cookie returns the http.HandlerFunc for GET /cookie?ext=&path=, the
// relay-selection redirect of spec.md §4.5. externalRedirect overrides the
// host embedded in the Location header; when empty, the request's Host
// header is used verbatim.
func Cookie(externalRedirect string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ext := r.URL.Query().Get("ext")
		path := r.URL.Query().Get("path")
		if ext == "" || path == "" {
			http.Error(w, "missing required query parameter: ext and path are both required", http.StatusBadRequest)
			return
		}

		host := externalRedirect
		if host == "" {
			host = r.Host
		}

		location := fmt.Sprintf("chrome-extension://%s/%s#ignored@%s", ext, path, host)
		w.Header().Set("Location", location)
		w.WriteHeader(http.StatusFound)
		_, _ = fmt.Fprintf(w, "redirecting to %s\n", logutil.SanitizeForLog(location))
	}
}
