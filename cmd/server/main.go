package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/integrationbroker/internal/api"
	"github.com/org/integrationbroker/internal/audit"
	"github.com/org/integrationbroker/internal/config"
	"github.com/org/integrationbroker/internal/core"
	"github.com/org/integrationbroker/internal/integration"
	"github.com/org/integrationbroker/internal/oauth"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/internal/vault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfgFile := "config.yaml"
	if v := os.Getenv("BROKER_CONFIG"); v != "" {
		cfgFile = v
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgFile, err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	store, secrets, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Vault.Addr != "" {
		httpVault, err := vault.NewHTTPStore(vault.HTTPConfig{
			Addr:      cfg.Vault.Addr,
			Token:     cfg.Vault.Token,
			Mount:     cfg.Vault.Mount,
			TLSCACert: cfg.Vault.CACert,
		})
		if err != nil {
			return fmt.Errorf("configuring vault client: %w", err)
		}
		secrets = httpVault
		log.Info().Str("addr", cfg.Vault.Addr).Msg("keyset stored in external vault")
	}

	keyring := core.NewKeyring(secrets,
		core.WithKeysetName(cfg.KeysetName),
		core.WithBootstrapHook(api.ObserveKeysetBootstrap),
	)
	defer keyring.Seal()

	auditor := audit.NewLogger(store)
	provider := oauth.NewClient(oauth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		Scopes:       cfg.OAuth.Scopes,
	})
	svc := integration.NewService(store, keyring, provider, cfg.BaseURL,
		integration.WithAuthorizationTTL(cfg.AuthorizationTTL),
		integration.WithAudit(auditor),
		integration.WithObserver(api.ObserveOperation),
	)

	srv := api.NewServer(svc, auditor, store, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		AdminToken:  cfg.AdminToken,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("base_url", cfg.BaseURL).Msg("server started")

	var runErr error
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("serving: %w", err)
		}
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	keyring.Seal()
	log.Info().Msg("server stopped")
	return runErr
}

// openStore returns the record store and the store-backed secret vault.
func openStore(ctx context.Context, cfg config.Config) (storage.Backend, vault.SecretStore, error) {
	if cfg.Dev {
		log.Warn().Msg("dev mode: records and keyset are kept in memory only")
		m := storage.NewMemoryBackend()
		return m, m, nil
	}

	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		return nil, nil, err
	}

	pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pg, pg, nil
}
