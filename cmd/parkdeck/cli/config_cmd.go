package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/parkdeck/parkdeck/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Parkdeck configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default parkdeck.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

const defaultConfigFile = `# Parkdeck Configuration

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  cors:
    origins:
      - "*"

auth:
  # Secret used to sign admin session tokens. Set this in production.
  jwt_secret: ${PARKDECK_JWT_SECRET}
  jwt_expiry: 1h
  jwt_issuer: parkdeck
  jwt_audience: parkdeck-admin

  # Trusted bootstrap credentials: the first login with this email creates
  # the account. Leave empty to require 'parkdeck admin create' instead.
  bootstrap_email: ""
  bootstrap_password: ""

  # Marks the deployment as production (enables the Secure cookie flag).
  production: false

  # Login attempts allowed per client address per window.
  login_rate_limit: 5
  login_rate_window: 15m

storage:
  # Defaults to ~/.parkdeck when empty.
  data_dir: ""

logging:
  level: info
  format: text
`

func runConfigInit(force bool) error {
	path := "parkdeck.yaml"
	if cfgFile != "" {
		path = cfgFile
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(defaultConfigFile), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigShow() error {
	cfg := config.DefaultYAMLConfig()
	if path := viper.ConfigFileUsed(); path != "" {
		loaded, err := config.LoadYAMLConfig(path)
		if err != nil {
			return err
		}
		cfg = loaded
		fmt.Printf("# from %s\n", path)
	} else {
		fmt.Println("# no config file found, showing defaults")
	}

	// Never print the signing secret or bootstrap password.
	if cfg.Auth.JWTSecret != "" {
		cfg.Auth.JWTSecret = "<redacted>"
	}
	if cfg.Auth.BootstrapPassword != "" {
		cfg.Auth.BootstrapPassword = "<redacted>"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
