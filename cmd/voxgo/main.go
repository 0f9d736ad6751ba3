package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxgo-dev/voxgo/internal/gen"
	"github.com/voxgo-dev/voxgo/internal/observability"
	"github.com/voxgo-dev/voxgo/internal/synth"
	"github.com/voxgo-dev/voxgo/pkg/config"
	"github.com/voxgo-dev/voxgo/pkg/session"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile = flag.String("config", getEnv("CONFIG_FILE", ""), "Configuration file")
	httpPort   = flag.Int("http-port", getEnvInt("PORT", 0), "HTTP observability port (overrides config)")
)

func main() {
	flag.Parse()

	log.Printf("Starting voxgo session runtime v%s", Version)

	cfg := config.Default()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}

	// Observability
	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}
	if err := observability.InitLangfuse(); err != nil {
		log.Printf("Langfuse disabled: %v", err)
	}
	checker := observability.NewHealthChecker()
	checker.RegisterCheck(observability.PingCheck())

	// Snapshot store
	store, err := buildStore(cfg, checker)
	if err != nil {
		log.Fatalf("Failed to create snapshot store: %v", err)
	}

	// Generation collaborator
	generator, err := gen.New(cfg.Provider, cfg.ProviderConfig)
	if err != nil {
		log.Fatalf("Failed to create generation provider: %v", err)
	}
	log.Printf("Generation provider: %s, store: %s", generator.Name(), cfg.Store)

	// Session manager
	opts := []session.Option{}
	if cfg.AudioDir != "" {
		local, err := synth.NewLocal(cfg.AudioDir)
		if err != nil {
			log.Fatalf("Failed to create audio dir: %v", err)
		}
		opts = append(opts, session.WithSynthesizer(local))
	}
	mgr := session.NewManager(cfg.Session, generator, store, opts...)
	mgr.Start()

	// Observability server
	obsServer := observability.NewServer(cfg.HTTPPort, checker)
	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on :%d", cfg.HTTPPort)
		errChan <- obsServer.Start()
	}()

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down", sig)
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := obsServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := mgr.Close(); err != nil {
		log.Printf("Manager shutdown error: %v", err)
	}
	if err := observability.ShutdownTracing(ctx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Printf("Shutdown complete")
}

func buildStore(cfg *config.Config, checker *observability.HealthChecker) (session.SnapshotStore, error) {
	switch cfg.Store {
	case "memory", "":
		return session.NewMemoryStore(), nil
	case "redis":
		store, err := session.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		checker.RegisterCheck(&observability.HealthCheck{
			Name:      "redis",
			CheckFunc: store.Ping,
			Critical:  true,
		})
		return store, nil
	case "firestore":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return session.NewFirestoreStore(ctx, cfg.Firestore)
	default:
		return nil, fmt.Errorf("unknown store: %q", cfg.Store)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
