// Command migrate applies the schema and seeds the destination waypoints
// without starting the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"dockqueue-backend/internal/config"
	"dockqueue-backend/internal/database"
	"dockqueue-backend/internal/logger"
	"dockqueue-backend/internal/mongostore"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

func main() {
	seed := flag.Bool("seed", true, "insert the default waypoints when the table is empty")
	flag.Parse()

	envErr := godotenv.Load()
	logger.Setup(logger.Options{ServiceName: "dockqueue-migrate", Format: "console"})
	if envErr != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	var cfg config.StoreConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to read store configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	if strings.EqualFold(cfg.Driver, config.StoreDriverMongo) {
		err = migrateMongo(ctx, cfg, *seed)
	} else {
		err = migratePostgres(ctx, cfg, *seed)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Migration failed")
	}
	log.Info().Msg("✅ Migration completed successfully!")
}

func migratePostgres(ctx context.Context, cfg config.StoreConfig, seed bool) error {
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL environment variable not set")
	}
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	if !seed {
		return nil
	}
	return database.SeedWaypoints(ctx, db, database.DefaultWaypoints)
}

func migrateMongo(ctx context.Context, cfg config.StoreConfig, seed bool) error {
	if cfg.MongoURI == "" {
		log.Fatal().Msg("MONGO_URI environment variable not set")
	}
	st, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureIndexes(ctx); err != nil {
		return err
	}
	if !seed {
		return nil
	}
	return st.SeedWaypoints(ctx, database.DefaultWaypoints)
}
