package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ParchmentLabs/drafthub/backend/internal/auth"
	"github.com/ParchmentLabs/drafthub/backend/internal/config"
	"github.com/ParchmentLabs/drafthub/backend/internal/crdt"
	"github.com/ParchmentLabs/drafthub/backend/internal/database"
	"github.com/ParchmentLabs/drafthub/backend/internal/docs"
	"github.com/ParchmentLabs/drafthub/backend/internal/logging"
	"github.com/ParchmentLabs/drafthub/backend/internal/room"
	"github.com/ParchmentLabs/drafthub/backend/internal/server"
	"github.com/ParchmentLabs/drafthub/backend/internal/tracker"
	"github.com/ParchmentLabs/drafthub/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "drafthub-api",
		Short: "DraftHub collaborative drafting backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Int("snapshot-interval-minutes", defaults.GetInt("snapshot.interval_minutes"), "Snapshot interval in minutes")
	cmd.PersistentFlags().Int("snapshot-byte-threshold", defaults.GetInt("snapshot.byte_threshold"), "Snapshot change-volume threshold in bytes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "snapshot.interval_minutes", "snapshot-interval-minutes")
	bindFlag(cmd, "snapshot.byte_threshold", "snapshot-byte-threshold")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "drafthub-auth",
		Audience:      "drafthub-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	docsService, err := docs.NewService(docs.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: docs.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	stateStore, err := crdt.NewStore(crdt.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	changeTracker := tracker.New(tracker.Config{
		SnapshotInterval: appConfig.SnapshotInterval,
		ByteThreshold:    int64(appConfig.SnapshotByteThreshold),
		Clock:            time.Now,
		Names:            usersService,
		Logger:           logger,
	})

	roomManager, err := room.NewManager(room.ManagerConfig{
		Docs:              docsService,
		Store:             stateStore,
		Tracker:           changeTracker,
		Logger:            logger,
		HeartbeatInterval: appConfig.HeartbeatInterval,
		HeartbeatGrace:    appConfig.HeartbeatGrace,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		DocsService:  docsService,
		UsersService: usersService,
		RoomManager:  roomManager,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		roomManager.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
