package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parkdeck/parkdeck/internal/server"
	"github.com/parkdeck/parkdeck/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Parkdeck API server",
		Long:  "Start the HTTP server that exposes the public listings API and the secured admin endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	// Set up logger
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// 1. Open the credential store (SQLite)
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("store initialized", "path", resolveDataDir())

	// 2. Build the authenticator from trusted configuration
	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		jwtSecret = "parkdeck-dev-secret-change-me"
		logger.Warn("auth.jwt_secret not set, using insecure development secret")
	}
	authCfg := service.Config{
		JWTSecret:         jwtSecret,
		TokenTTL:          durationSetting("auth.jwt_expiry", time.Hour),
		Issuer:            stringSetting("auth.jwt_issuer", "parkdeck"),
		Audience:          stringSetting("auth.jwt_audience", "parkdeck-admin"),
		BootstrapEmail:    viper.GetString("auth.bootstrap_email"),
		BootstrapPassword: viper.GetString("auth.bootstrap_password"),
	}
	auth := service.NewAuthenticator(store, authCfg, logger)

	// 3. Warn on first run: without an admin account or bootstrap
	// credentials nobody can reach the dashboards.
	count, err := store.CountAdmins(context.Background())
	if err != nil {
		logger.Warn("failed to count admin accounts", "error", err)
	}
	if count == 0 {
		if authCfg.BootstrapEmail == "" {
			logger.Warn("no admin account and no auth.bootstrap_email configured - run: parkdeck admin create")
		} else {
			logger.Info("no admin account yet; first login as the bootstrap email will create it",
				"email", authCfg.BootstrapEmail)
		}
	}

	// 4. Build and start the HTTP server
	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.Production = viper.GetBool("auth.production")
	srvCfg.LoginRateLimit = intSetting("auth.login_rate_limit", srvCfg.LoginRateLimit)
	srvCfg.LoginRateWindow = durationSetting("auth.login_rate_window", srvCfg.LoginRateWindow)
	srvCfg.ShutdownTimeout = durationSetting("server.shutdown_timeout", srvCfg.ShutdownTimeout)
	if origins := viper.GetStringSlice("server.cors.origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}

	srv := server.New(srvCfg, store, auth, logger)

	fmt.Printf("→ Parkdeck\n")
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health:   http://%s:%d/healthz\n", host, port)
	fmt.Printf("→ Listings: http://%s:%d/api/v1/listings\n", host, port)
	fmt.Println()

	return srv.ListenAndServe()
}

func stringSetting(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func intSetting(key string, fallback int) int {
	if v := viper.GetInt(key); v > 0 {
		return v
	}
	return fallback
}
