package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"hotel-channel-sync/channels"
	"hotel-channel-sync/config"
	"hotel-channel-sync/controllers"
	"hotel-channel-sync/routes"
	"hotel-channel-sync/services"
)

func main() {
	settings := config.LoadSettings()
	config.InitLogger(settings)
	if err := run(settings); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
	log.Info().Msg("server stopped gracefully")
}

func run(settings config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := config.InitTracerProvider(settings.ServiceName, settings.JaegerEndpoint)
	if err != nil {
		return errors.Wrap(err, "init tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	db, err := config.ConnectDatabase(settings)
	if err != nil {
		return errors.Wrap(err, "database connect failed")
	}

	integrations := services.NewIntegrationService(db)
	if err := seedIntegrations(ctx, settings, integrations); err != nil {
		return err
	}

	dispatchLog, closeLog, err := openDispatchLog(ctx, settings)
	if err != nil {
		return err
	}
	defer closeLog()

	importer := services.NewReservationImporter(db)
	registry := channels.NewRegistry(importer, &http.Client{Timeout: settings.ChannelTimeout})
	defer registry.Close()

	dispatcher := services.NewSyncDispatcher(db, registry, integrations, dispatchLog, services.SyncDispatcherConfig{
		DebounceWindow:  settings.SyncDebounce,
		FlushInterval:   settings.SyncFlushInterval,
		FlushLimit:      settings.SyncFlushLimit,
		ProcessingLease: settings.SyncLease,
	})
	audit := services.NewAuditService(db)
	guard := services.NewOverbookingGuard(db, audit, dispatcher)
	bookings := services.NewBookingService(db, guard, audit)
	gateway := services.NewWebhookGateway(registry, integrations, guard)

	router := routes.SetupRouter(routes.Controllers{
		Units:     controllers.NewUnitController(services.NewUnitService(db)),
		Inventory: controllers.NewInventoryController(guard),
		Bookings:  controllers.NewBookingController(bookings, audit),
		Channels:  controllers.NewChannelController(gateway, integrations),
		Sync:      controllers.NewSyncController(dispatcher),
	}, settings.CORSOrigins)

	return serve(ctx, settings, router, dispatcher, db)
}

func serve(ctx context.Context, settings config.Settings, handler *gin.Engine, dispatcher *services.SyncDispatcher, db *gorm.DB) error {
	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received, shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}
		return nil
	})

	err := g.Wait()
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}

func seedIntegrations(ctx context.Context, settings config.Settings, integrations *services.IntegrationService) error {
	if settings.ChannelsFile != "" {
		seeds, err := config.LoadChannelSeeds(settings.ChannelsFile)
		if err != nil {
			return err
		}
		for _, seed := range seeds {
			if _, err := channels.ParseKey(seed.Key); err != nil {
				log.Warn().Str("channel", seed.Key).Msg("skipping seed for unsupported channel")
				continue
			}
			if _, err := integrations.Upsert(ctx, seed); err != nil {
				return err
			}
		}
		log.Info().Int("channels", len(seeds)).Str("file", settings.ChannelsFile).Msg("channel integrations seeded")
	}

	migrated, err := integrations.MigrateLegacySecrets(ctx)
	if err != nil {
		return err
	}
	if migrated > 0 {
		log.Info().Int("integrations", migrated).Msg("legacy signing secrets migrated")
	}
	return nil
}

func openDispatchLog(ctx context.Context, settings config.Settings) (services.DispatchLog, func(), error) {
	if settings.RedisURL == "" {
		return services.NewMemoryDispatchLog(int(settings.DispatchLogMax)), func() {}, nil
	}
	opts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse REDIS_URL")
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "connect redis")
	}
	log.Info().Str("addr", opts.Addr).Msg("dispatch log backed by redis")
	return services.NewRedisDispatchLog(client, "", settings.DispatchLogMax), func() { _ = client.Close() }, nil
}
