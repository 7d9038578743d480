package handlers

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/wsshrelay/wsshrelay/internal/relay"
)

func TestProxyMissingParams(t *testing.T) {
	registry := relay.NewRegistry(0)
	defer registry.Shutdown()
	h := Proxy(registry, relay.NewRateLimiter(0), time.Second)

	req := httptest.NewRequest(http.MethodGet, "/proxy?host=127.0.0.1", nil)
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProxyCreatesSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn
		}
	}()

	registry := relay.NewRegistry(0)
	defer registry.Shutdown()
	h := Proxy(registry, relay.NewRateLimiter(0), time.Second)

	addr := ln.Addr().(*net.TCPAddr)
	req := httptest.NewRequest(http.MethodGet, "/proxy?host=127.0.0.1&port="+strconv.Itoa(addr.Port), nil)
	req.Header.Set("Origin", "https://frontend.example")
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%q", rec.Code, rec.Body.String())
	}
	sid := rec.Body.String()
	if sid == "" {
		t.Fatal("expected a non-empty session id in the response body")
	}
	if _, ok := registry.Get(sid); !ok {
		t.Error("session must be registered after a successful /proxy call")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://frontend.example" {
		t.Errorf("Access-Control-Allow-Origin = %q, want reflected Origin", got)
	}
}

func TestProxyDialFailureReturns502(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close() // nothing listening now

	registry := relay.NewRegistry(0)
	defer registry.Shutdown()
	h := Proxy(registry, relay.NewRateLimiter(0), 200*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/proxy?host=127.0.0.1&port="+strconv.Itoa(port), nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}
