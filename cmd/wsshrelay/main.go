package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wsshrelay/wsshrelay/internal/config"
	"github.com/wsshrelay/wsshrelay/internal/handlers"
	"github.com/wsshrelay/wsshrelay/internal/relay"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <bind-port> [external-redirect]\n", os.Args[0])
		os.Exit(1)
	}
	bindPort, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("bind-port must be numeric: %v", err)
	}
	config.Load()

	externalRedirect := config.Cfg.ExternalRedirect
	if len(os.Args) > 2 {
		externalRedirect = os.Args[2]
	}
	log.Printf("Config: IdleSessionTimeout=%s BackendDialTimeout=%s ProxyRateLimit=%d",
		config.Cfg.IdleSessionTimeout, config.Cfg.BackendDialTimeout, config.Cfg.ProxyRateLimit)

	registry := relay.NewRegistry(config.Cfg.IdleSessionTimeout)
	defer registry.Shutdown()

	limiter := relay.NewRateLimiter(config.Cfg.ProxyRateLimit)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET"},
		AllowCredentials: true,
	}))

	r.Get("/health", handlers.Health(registry))
	r.Get("/cookie", handlers.Cookie(externalRedirect))
	r.Get("/proxy", handlers.Proxy(registry, limiter, config.Cfg.BackendDialTimeout))
	r.Get("/connect", handlers.Connect(registry))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Unknown endpoint"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", bindPort),
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("wsshrelay listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
	log.Println("server stopped")
}
