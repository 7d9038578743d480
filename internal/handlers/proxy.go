package handlers

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wsshrelay/wsshrelay/internal/logutil"
	"github.com/wsshrelay/wsshrelay/internal/relay"
)

// Proxy returns the http.HandlerFunc for GET /proxy?host=&port=, which
// creates a Session against the given backend and returns its id
// (spec.md §4.5). limiter guards against dial-attempt storms from a single
// remote peer; registry is where the new Session is recorded on success.
func Proxy(registry *relay.Registry, limiter *relay.RateLimiter, dialTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setProxyCORSHeaders(w, r)

		host := r.URL.Query().Get("host")
		portStr := r.URL.Query().Get("port")
		if host == "" || portStr == "" {
			http.Error(w, "missing required query parameter: host and port are both required", http.StatusBadRequest)
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			http.Error(w, "port must be numeric", http.StatusBadRequest)
			return
		}

		peer := remotePeer(r)
		if limiter != nil {
			if rlErr := limiter.Allow(peer); rlErr != nil {
				var tooMany *relay.ErrRateLimited
				if errors.As(rlErr, &tooMany) {
					w.Header().Set("Retry-After", strconv.Itoa(int(tooMany.RetryAfter.Seconds())))
				}
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
		defer cancel()

		session, err := relay.Create(ctx, host, port, dialTimeout)
		if err != nil {
			log.Printf("[handlers] /proxy: dial %s:%d failed: %v", logutil.SanitizeForLog(host), port, err)
			if limiter != nil {
				limiter.RecordFailure(peer)
			}
			http.Error(w, "backend connect failed", http.StatusBadGateway)
			return
		}
		if limiter != nil {
			limiter.RecordSuccess(peer)
		}

		registry.Add(session)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(session.ID()))
	}
}

// setProxyCORSHeaders reflects the request Origin per spec.md §4.5, rather
// than relying on the router-wide CORS middleware, since /proxy's CORS
// contract is part of the specified response even on error paths.
func setProxyCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
}

// remotePeer extracts the caller's bare IP from the request, falling back
// to the raw RemoteAddr if it has no port to split off.
func remotePeer(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
