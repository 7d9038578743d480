package handlers

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wsshrelay/wsshrelay/internal/relay"
)

func TestConnectUnknownSessionProtocolCloses(t *testing.T) {
	registry := relay.NewRegistry(0)
	defer registry.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", Connect(registry))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect?sid=nonexistent&ack=0&pos=0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) < 4 {
		t.Fatalf("short frame: % x", data)
	}
	ack := int32(binary.BigEndian.Uint32(data[:4]))
	if ack != -1 {
		t.Errorf("ack = %d, want -1 (protocol close)", ack)
	}
}

func TestConnectMalformedQueryProtocolCloses(t *testing.T) {
	registry := relay.NewRegistry(0)
	defer registry.Shutdown()

	mux := http.NewServeMux()
	mux.HandleFunc("/connect", Connect(registry))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connect?sid=x&ack=notanumber&pos=0"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	ack := int32(binary.BigEndian.Uint32(data[:4]))
	if ack != -1 {
		t.Errorf("ack = %d, want -1 (protocol close)", ack)
	}
}
