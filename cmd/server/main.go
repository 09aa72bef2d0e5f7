package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/router"
	"github.com/kashguard/go-hsm/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "hsm",
		Short: "Simulated hardware security module",
	}

	rootCmd.AddCommand(serverCmd(), selftestCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Run: func(_ *cobra.Command, _ []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			initLogger(cfg.Logger)
			runServer(cfg)
		},
	}
}

func selftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run cryptographic self-tests and exit",
		Long:  "Initializes the module, runs the known-answer self-tests and the tamper seal check, then exits nonzero if the module is degraded.",
		Run: func(cmd *cobra.Command, _ []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			initLogger(cfg.Logger)

			s, err := api.InitNewServer(cfg)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to initialize module")
			}
			defer func() {
				for _, err := range s.Shutdown(cmd.Context()) {
					log.Error().Err(err).Msg("Error during shutdown")
				}
			}()

			if err := s.Module.RunSelfTest(cmd.Context()); err != nil {
				log.Error().Err(err).Msg("Self-test failed")
				os.Exit(1)
			}
			if !s.Module.Healthy() {
				log.Error().Msg("Module is unhealthy")
				os.Exit(1)
			}

			log.Info().Msg("Self-test passed")
		},
	}
}

func runServer(cfg config.Server) {
	s, err := api.InitNewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	router.Init(s)

	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Str("listen_address", cfg.Echo.ListenAddress).Msg("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, err := range s.Shutdown(ctx) {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func initLogger(cfg config.Logger) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
