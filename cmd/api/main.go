package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agendaflow/internal/httpapi"
	"agendaflow/internal/obs"
	"agendaflow/internal/store"
	"agendaflow/internal/store/pg"
	"agendaflow/internal/workflow"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, commit)
	defer obs.Sync()

	// Store selection: Postgres when a DSN is configured, in-memory
	// otherwise (dev and smoke runs).
	var (
		st    store.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("AGENDAFLOW_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer pgStore.Close()
		st = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		st = store.NewMemory()
	}

	engine := workflow.New(st, workflow.Config{
		Logger:                 obs.Logger(),
		DisallowedRequestRoles: []string{workflow.RoleConvidado},
	})

	api := httpapi.New(engine, st, probe, version)

	addr := os.Getenv("AGENDAFLOW_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting agendaflow-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
