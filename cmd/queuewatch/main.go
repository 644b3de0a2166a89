// Command queuewatch shows the live dock queue in a terminal.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockqueue-backend/internal/logger"
	"dockqueue-backend/internal/watch"

	"github.com/rs/zerolog/log"
)

func main() {
	server := flag.String("server", envOr("DOCKQUEUE_URL", "http://localhost:8080"), "API base URL")
	destination := flag.String("destination", "", "only show entries for this destination code")
	facility := flag.String("facility", "", "only show entries from this origin facility")
	poll := flag.Duration("poll", 10*time.Second, "fallback refresh interval")
	logLevel := flag.String("log-level", "warn", "log level for stderr diagnostics")
	flag.Parse()

	logger.Setup(logger.Options{
		ServiceName: "queuewatch",
		Level:       *logLevel,
		Format:      "console",
		Output:      os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watch.New(watch.Options{
		BaseURL:      *server,
		Destination:  *destination,
		Facility:     *facility,
		PollInterval: *poll,
		Out:          os.Stdout,
		ClearScreen:  true,
	})
	if err := w.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("queuewatch stopped")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
