package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/roomchat/internal/pubsub"
	"github.com/Tyrowin/roomchat/internal/ratelimit"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	log.Println("Starting RoomChat server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := server.NewConfigFromEnv()

	deps, cleanup, err := buildDeps(ctx, config)
	if err != nil {
		log.Fatalf("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	srv := server.NewServer(config, deps)
	srv.Start()

	httpServer := server.CreateServer(config.Port, srv.SetupRoutes())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Server listening on %s", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		if err := srv.Hub().Shutdown(config.ShutdownTimeout); err != nil {
			log.Printf("Hub shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// buildDeps connects the external services the server depends on. Redis is
// required for cross-instance behavior but the process still starts without
// it and runs in degraded single-instance mode; Postgres is optional and
// falls back to in-memory storage when DATABASE_URL is unset.
func buildDeps(ctx context.Context, config *server.Config) (server.Deps, func(), error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return server.Deps{}, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis unreachable at %s, continuing in degraded mode: %v", config.RedisURL, err)
	}
	channel := pubsub.NewRedisChannel(rdb)

	var st store.PersistenceStore
	var closeStore func()
	if config.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, using in-memory storage")
		st = store.NewMemoryStore()
		closeStore = func() {}
	} else {
		pg, err := store.Connect(ctx, config.DatabaseURL)
		if err != nil {
			return server.Deps{}, nil, err
		}
		st = pg
		closeStore = pg.Close
	}

	deps := server.Deps{
		Store:    st,
		Counters: ratelimit.NewRedisCounterStore(rdb),
		Channel:  channel,
	}
	cleanup := func() {
		if err := channel.Close(); err != nil {
			log.Printf("Error closing pub/sub channel: %v", err)
		}
		closeStore()
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing Redis client: %v", err)
		}
	}
	return deps, cleanup, nil
}
