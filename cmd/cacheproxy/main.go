// Command cacheproxy runs the response-caching reverse proxy: it loads an
// endpoint configuration, wires a Backend (in-memory LRU or Redis), and
// serves driver.Middleware in front of a single upstream target, driven by
// a declarative endpoint configuration instead of a single global TTL.
package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaycache/cacheproxy/internal/backend/memory"
	"github.com/relaycache/cacheproxy/internal/backend/rediscache"
	"github.com/relaycache/cacheproxy/internal/cache"
	"github.com/relaycache/cacheproxy/internal/config"
	"github.com/relaycache/cacheproxy/internal/driver"
	"github.com/relaycache/cacheproxy/internal/observability"
	"github.com/relaycache/cacheproxy/internal/subject"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: could not load .env file (%v), using system environment variables", err)
	}

	listenAddr := envOr("CACHEPROXY_LISTEN_ADDR", ":8080")
	targetURL := envOr("CACHEPROXY_TARGET_URL", "http://localhost:8000")
	configPath := envOr("CACHEPROXY_CONFIG", "configs/endpoints.yaml")
	redisAddr := os.Getenv("CACHEPROXY_REDIS_ADDR")

	endpoints, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("cacheproxy: loading config: %v", err)
	}
	if len(endpoints) == 0 {
		log.Fatalf("cacheproxy: %s declares no endpoints", configPath)
	}
	if len(endpoints) > 1 {
		log.Printf("warning: %d endpoints configured; this binary wires only the first (%q) into one driver - run one cacheproxy per endpoint behind a router for the rest", len(endpoints), endpoints[0].Name)
	}
	endpoint := endpoints[0]

	target, err := url.Parse(targetURL)
	if err != nil {
		log.Fatalf("cacheproxy: invalid target URL %q: %v", targetURL, err)
	}

	logger := observability.NewLogger(log.Default())
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	backend := newBackend(redisAddr)
	if err := backend.Start(context.Background()); err != nil {
		log.Fatalf("cacheproxy: backend start: %v", err)
	}

	d := &driver.Driver[*subject.CachedPayload]{
		Backend:    backend,
		Upstream:   driver.NewHTTPUpstream(target, nil),
		Evaluator:  endpoint.Evaluator,
		Classifier: endpoint.Classifier,
		Capture:    subject.FromResponse,
		Expand:     (*subject.CachedPayload).ToResponse,
		Metrics:    metrics,
		Logger:     logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/", driver.NewMiddleware(d))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log.Printf("cacheproxy listening on %s, proxying to %s, endpoint=%q key_prefix=%q",
		listenAddr, target.String(), endpoint.Name, endpoint.KeyPrefix)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		log.Fatal(err)
	}
}

func newBackend(redisAddr string) cache.Backend[*subject.CachedPayload] {
	if redisAddr == "" {
		return memory.New[*subject.CachedPayload](1024)
	}
	pool := &redis.Pool{
		MaxIdle:     8,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", redisAddr, redis.DialConnectTimeout(5*time.Second))
		},
	}
	return rediscache.New[*subject.CachedPayload](pool, "cacheproxy:")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
