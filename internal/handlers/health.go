package handlers

import (
	"fmt"
	"net/http"

	"github.com/wsshrelay/wsshrelay/internal/relay"
)

// Health returns a liveness handler reporting the number of active
// sessions, mirroring the teacher's lightweight /healthz endpoints.
func Health(registry *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok sessions=%d\n", registry.Len())
	}
}
