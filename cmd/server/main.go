package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/AnshRaj112/tracklog-backend/internal/config"
	"github.com/AnshRaj112/tracklog-backend/internal/database"
	"github.com/AnshRaj112/tracklog-backend/internal/handlers"
	"github.com/AnshRaj112/tracklog-backend/internal/logging"
	"github.com/AnshRaj112/tracklog-backend/internal/routes"
	"github.com/AnshRaj112/tracklog-backend/internal/services"
	"github.com/AnshRaj112/tracklog-backend/internal/store"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		logging.Info().Msg("No .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Failed to open store")
	}
	defer closeStore()

	authOpts := []services.AuthOption{
		services.WithIdentityProvider(services.NewHTTPIdentityProvider(services.IdentityConfig{
			URL:     cfg.ExternalAuth.URL,
			Timeout: cfg.ExternalAuth.Timeout,
		})),
	}
	if cfg.Store.RedisURI != "" {
		rdb, err := database.ConnectRedis(ctx, cfg.Store.RedisURI)
		if err != nil {
			// The cache is optional; sessions still resolve from the store.
			logging.Warn().Err(err).Msg("Redis unavailable, session cache disabled")
		} else {
			defer rdb.Close()
			authOpts = append(authOpts, services.WithSessionCache(services.NewRedisSessionCache(rdb)))
			logging.Info().Msg("Redis session cache enabled")
		}
	}

	photos, uploadsDir, err := openPhotoStore(ctx, cfg.Photos)
	if err != nil {
		logging.Fatal().Err(err).Str("storage", cfg.Photos.Storage).Msg("Failed to initialize photo storage")
	}

	auth := services.NewAuthenticator(st, st, cfg.Session.TTL, authOpts...)
	sightings := services.NewSightings(st, photos)
	accounts := services.NewAccounts(st, auth, sightings, photos)

	r := routes.NewRouter(routes.Deps{
		Store:          st,
		Auth:           auth,
		Accounts:       accounts,
		Sightings:      sightings,
		Cookie:         handlers.NewCookieConfig(cfg.Session.CookieName, cfg.IsProduction(), cfg.Session.TTL),
		AllowedOrigins: cfg.AllowedOrigins,
		Production:     cfg.IsProduction(),
		TrustProxy:     cfg.TrustProxy,
		UploadsDir:     uploadsDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info().Str("port", cfg.Port).Str("env", cfg.Environment).
			Strs("allowed_origins", cfg.AllowedOrigins).Msg("TrackLog backend running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// openStore connects the configured driver and prepares its indexes or schema.
func openStore(ctx context.Context, c config.StoreConfig) (store.Store, func(), error) {
	switch c.Driver {
	case config.StoreMongo:
		logging.Info().Str("uri", database.MaskURI(c.MongoURI)).Msg("Connecting to MongoDB...")
		client, db, err := database.ConnectMongo(ctx, c.MongoURI, c.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		ms := store.NewMongoStore(db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = database.DisconnectMongo(client)
			return nil, nil, err
		}
		return ms, func() { disconnectMongo(client) }, nil

	case config.StorePostgres:
		logging.Info().Str("uri", database.MaskURI(c.PostgresURI)).Msg("Connecting to PostgreSQL...")
		db, err := database.ConnectPostgres(ctx, c.PostgresURI)
		if err != nil {
			return nil, nil, err
		}
		ps := store.NewPostgresStore(db)
		if err := ps.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return ps, func() { closePostgres(db) }, nil

	default:
		logging.Warn().Msg("Using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

func disconnectMongo(client *mongo.Client) {
	if err := database.DisconnectMongo(client); err != nil {
		logging.Error().Err(err).Msg("Failed to disconnect MongoDB")
	}
}

func closePostgres(db *sql.DB) {
	if err := db.Close(); err != nil {
		logging.Error().Err(err).Msg("Failed to close PostgreSQL")
	}
}

// openPhotoStore returns the configured backend and, for local storage, the
// directory to serve under /api/uploads/.
func openPhotoStore(ctx context.Context, c config.PhotoConfig) (services.PhotoStore, string, error) {
	switch c.Storage {
	case config.PhotoStorageCloudinary:
		ps, err := services.NewCloudinaryPhotoStore(c.CloudinaryName, c.CloudinaryAPIKey, c.CloudinaryAPISecret, c.CloudinaryFolder)
		if err != nil {
			return nil, "", err
		}
		logging.Info().Str("folder", c.CloudinaryFolder).Msg("Cloudinary photo storage initialized")
		return ps, "", nil

	case config.PhotoStorageS3:
		ps, err := services.NewS3PhotoStore(ctx, services.S3Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			PublicURL: c.S3PublicURL,
			Prefix:    c.S3Prefix,
		})
		if err != nil {
			return nil, "", err
		}
		logging.Info().Str("bucket", c.S3Bucket).Msg("S3 photo storage initialized")
		return ps, "", nil

	default:
		ps, err := services.NewLocalPhotoStore(c.UploadsDir)
		if err != nil {
			return nil, "", err
		}
		logging.Info().Str("dir", c.UploadsDir).Msg("Local photo storage initialized")
		return ps, ps.Dir(), nil
	}
}
