/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire the closing engine and its collaborators
  4. Configure HTTP router and the closing scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: settlement.db)
             Use ":memory:" for in-memory database
  -workers   Closing run worker count (default: 4)
  -schedule  Run the closing scheduler (default: true)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/settlement.db"

  # Run with in-memory database, no scheduler
  ./server -db=":memory:" -schedule=false

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/closing"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/liability"
	"github.com/warp/settlement-engine/marketdata"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "settlement.db", "SQLite database path")
	workers := flag.Int("workers", 4, "closing run worker count")
	schedule := flag.Bool("schedule", true, "run the closing scheduler")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()

	// Wire the engine
	prices := marketdata.NewMemoryPrices()
	lots := liability.NewTracker()
	led := ledger.New(store, log)
	engine := &closing.Engine{
		Ledger:   led,
		Prices:   prices,
		Calendar: marketdata.NewHolidayCalendar(),
		Lots:     lots,
		Book:     store.Book(),
		Log:      log,
	}
	runner := closing.NewRunner(engine, *workers, log)

	handler := &api.Handler{
		Store:  store,
		Ledger: led,
		Engine: engine,
		Runner: runner,
		Prices: prices,
		Lots:   lots,
		Log:    log,
	}
	router := api.NewRouter(handler)

	scheduler := api.NewClosingScheduler(store, runner, log)
	scheduler.Enabled = *schedule
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
