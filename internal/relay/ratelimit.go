// ratelimit.go implements connection-creation rate limiting for the /proxy
// endpoint.
//
// It protects against reconnection storms and backend-dial abuse by
// enforcing two complementary limits per remote peer:
//
//  1. Sliding-window rate limit: max N /proxy requests per minute (N is
//     configurable, see config.Settings.ProxyRateLimit).
//  2. Consecutive-dial-failure block: after 5 consecutive backend dial
//     failures, the peer is blocked for an escalating cooldown (starting at
//     30s, doubling each time, capped at 5 minutes). A successful dial
//     resets both the failure counter and the block cooldown.
//
// All state is kept in-memory and keyed by remote IP (adapted from the
// teacher's instance-ID-keyed sshproxy.RateLimiter).
package relay

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	// rateLimitWindow is the sliding window for counting /proxy requests.
	rateLimitWindow = 1 * time.Minute

	// rateLimitFailureThreshold is consecutive dial failures before blocking.
	rateLimitFailureThreshold = 5

	// rateLimitInitialBlock is the initial block duration after hitting the
	// failure threshold.
	rateLimitInitialBlock = 30 * time.Second

	// rateLimitMaxBlock caps exponential block growth.
	rateLimitMaxBlock = 5 * time.Minute
)

// ErrRateLimited is returned when a /proxy request is rejected by the rate
// limiter.
type ErrRateLimited struct {
	Peer       string
	Reason     string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited for %s: %s (retry after %s)", e.Peer, e.Reason, e.RetryAfter)
}

// peerRateState tracks rate limiting state for a single remote peer.
type peerRateState struct {
	attempts []time.Time

	consecutiveFailures int
	blockedUntil        time.Time
	blockDuration       time.Duration
}

// RateLimiter enforces /proxy creation rate limits per remote peer.
type RateLimiter struct {
	mu          sync.Mutex
	states      map[string]*peerRateState
	maxAttempts int
	nowFunc     func() time.Time
}

// NewRateLimiter creates a RateLimiter allowing maxAttempts /proxy requests
// per peer per rateLimitWindow. maxAttempts <= 0 disables the sliding-window
// check (the consecutive-failure block still applies).
func NewRateLimiter(maxAttempts int) *RateLimiter {
	return &RateLimiter{
		states:      make(map[string]*peerRateState),
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
	}
}

func (rl *RateLimiter) getOrCreate(peer string) *peerRateState {
	state, ok := rl.states[peer]
	if !ok {
		state = &peerRateState{}
		rl.states[peer] = state
	}
	return state
}

// Allow checks whether a /proxy request from peer should be allowed. Returns
// nil if allowed, or an *ErrRateLimited if blocked.
func (rl *RateLimiter) Allow(peer string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	state := rl.getOrCreate(peer)

	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		retryAfter := state.blockedUntil.Sub(now)
		log.Printf("[relay] proxy rate limit: %s blocked for %s after %d consecutive dial failures",
			peer, retryAfter.Round(time.Second), state.consecutiveFailures)
		return &ErrRateLimited{
			Peer:       peer,
			Reason:     fmt.Sprintf("blocked after %d consecutive dial failures", state.consecutiveFailures),
			RetryAfter: retryAfter,
		}
	}

	if rl.maxAttempts <= 0 {
		state.attempts = append(state.attempts, now)
		return nil
	}

	cutoff := now.Add(-rateLimitWindow)
	recent := state.attempts[:0]
	for _, t := range state.attempts {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	state.attempts = recent

	if len(state.attempts) >= rl.maxAttempts {
		oldest := state.attempts[0]
		retryAfter := oldest.Add(rateLimitWindow).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		log.Printf("[relay] proxy rate limit: %s exceeded %d requests in %s window", peer, rl.maxAttempts, rateLimitWindow)
		return &ErrRateLimited{
			Peer:       peer,
			Reason:     fmt.Sprintf("exceeded %d requests in %s", rl.maxAttempts, rateLimitWindow),
			RetryAfter: retryAfter,
		}
	}

	state.attempts = append(state.attempts, now)
	return nil
}

// RecordSuccess resets the consecutive failure counter and block state for
// peer. Called after a successful backend dial.
func (rl *RateLimiter) RecordSuccess(peer string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.states[peer]
	if !ok {
		return
	}
	state.consecutiveFailures = 0
	state.blockedUntil = time.Time{}
	state.blockDuration = 0
}

// RecordFailure increments the consecutive dial-failure counter for peer. If
// the failure threshold is reached, peer is blocked for an escalating
// cooldown period.
func (rl *RateLimiter) RecordFailure(peer string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	state := rl.getOrCreate(peer)
	state.consecutiveFailures++

	if state.consecutiveFailures >= rateLimitFailureThreshold {
		if state.blockDuration == 0 {
			state.blockDuration = rateLimitInitialBlock
		} else {
			state.blockDuration *= 2
			if state.blockDuration > rateLimitMaxBlock {
				state.blockDuration = rateLimitMaxBlock
			}
		}
		state.blockedUntil = now.Add(state.blockDuration)
		log.Printf("[relay] proxy rate limit: %s blocked for %s after %d consecutive dial failures",
			peer, state.blockDuration, state.consecutiveFailures)
	}
}
