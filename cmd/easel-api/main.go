package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/config"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/database"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/devices"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/photos"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/server"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/wake"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "easel-api",
		Short: "Easel e-paper photo frame backend service",
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
	cmd.PersistentFlags().String("server-base-url", defaults.GetString("server.base_url"), "Externally reachable base URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("panel-width", defaults.GetInt("panel.width"), "Target panel width in pixels")
	cmd.PersistentFlags().Int("panel-height", defaults.GetInt("panel.height"), "Target panel height in pixels")
	cmd.PersistentFlags().String("default-wake-time", defaults.GetString("wake.default_time"), "Fallback daily wake time (HH:MM, UTC)")
	cmd.PersistentFlags().Int("min-days-before-repeat", defaults.GetInt("rotation.min_days_before_repeat"), "Days before an asset may repeat")
	cmd.PersistentFlags().String("immich-base-url", defaults.GetString("immich.base_url"), "Immich base URL")
	cmd.PersistentFlags().String("immich-album-id", defaults.GetString("immich.album_id"), "Immich album to rotate through")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("immich-api-key", "", "Immich API key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "server.base_url", "server-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "panel.width", "panel-width")
	bindFlag(cmd, "panel.height", "panel-height")
	bindFlag(cmd, "wake.default_time", "default-wake-time")
	bindFlag(cmd, "rotation.min_days_before_repeat", "min-days-before-repeat")
	bindFlag(cmd, "immich.base_url", "immich-base-url")
	bindFlag(cmd, "immich.album_id", "immich-album-id")
	bindFlag(cmd, "immich.api_key", "immich-api-key")
	bindFlag(cmd, "log.level", "log-level")
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

	deviceService, err := devices.NewService(devices.ServiceConfig{
		Database:            db,
		Clock:               time.Now,
		IDProvider:          devices.NewUUIDProvider(),
		Logger:              logger,
		DefaultWakeTime:     appConfig.DefaultWakeTime,
		MinDaysBeforeRepeat: appConfig.MinDaysBeforeRepeat,
	})
	if err != nil {
		return err
	}

	catalog, err := photos.NewClient(photos.ClientConfig{
		BaseURL: appConfig.ImmichBaseURL,
		APIKey:  appConfig.ImmichAPIKey,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		DeviceService: deviceService,
		WakeResolver:  wake.NewResolver(logger),
		Catalog:       catalog,
		AlbumID:       appConfig.ImmichAlbumID,
		ServerBaseURL: appConfig.ServerBaseURL,
		PanelWidth:    appConfig.PanelWidth,
		PanelHeight:   appConfig.PanelHeight,
		Logger:        logger,
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
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
