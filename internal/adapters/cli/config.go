package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/config"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Manage qbank configuration settings.

Configuration is loaded from multiple sources with priority:
1. Environment variables (QB_* prefix, plus well-known names)
2. Config file (config.yaml)
3. Default values

User preferences (default tenant) are stored in ~/.qbank/config.json

Examples:
  qbank config show
  qbank config set-tenant acme
  qbank config clear-tenant`,
	}

	// Add subcommands
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetTenantCommand())
	cmd.AddCommand(newConfigClearTenantCommand())

	return cmd
}

// newConfigShowCommand creates the config show subcommand
func newConfigShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long: `Display the current configuration settings.

Shows both system configuration and user preferences.

Example:
  qbank config show`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load system config
			cfg, err := config.LoadConfig("")
			if err != nil {
				fmt.Printf("Warning: Failed to load config: %v\n", err)
				fmt.Println("Using default configuration.")
				cfg = config.LoadConfigOrDefault("")
			}

			// Load user config
			userConfigHandler, err := config.NewUserConfigHandler()
			if err != nil {
				return fmt.Errorf("failed to create user config handler: %w", err)
			}

			userCfg, err := userConfigHandler.Load()
			if err != nil {
				fmt.Printf("Warning: Failed to load user config: %v\n\n", err)
				userCfg = &config.UserConfig{}
			}

			// Display configuration
			fmt.Println("qbank Configuration")
			fmt.Println("===================")

			fmt.Println("User Preferences:")
			fmt.Printf("  Config file:      %s\n", userConfigHandler.GetConfigPath())
			if userCfg.DefaultTenant != "" {
				fmt.Printf("  Default Tenant:   %s\n", userCfg.DefaultTenant)
			} else {
				fmt.Printf("  Default Tenant:   (not set)\n")
			}

			fmt.Println("\nDatabase:")
			fmt.Printf("  Type:             %s\n", cfg.Database.Type)
			if cfg.Database.Type == "sqlite" {
				fmt.Printf("  Path:             %s\n", cfg.Database.Path)
			} else if cfg.Database.URL != "" {
				fmt.Printf("  URL:              %s\n", maskPassword(cfg.Database.URL))
			} else {
				fmt.Printf("  Host:             %s\n", cfg.Database.Host)
				fmt.Printf("  Port:             %d\n", cfg.Database.Port)
				fmt.Printf("  Database:         %s\n", cfg.Database.Name)
				fmt.Printf("  User:             %s\n", cfg.Database.User)
			}
			fmt.Printf("  Max Connections:  %d\n", cfg.Database.Pool.MaxOpen)

			fmt.Println("\nAI Provider:")
			fmt.Printf("  Base URL:         %s\n", cfg.AI.BaseURL)
			fmt.Printf("  Vision Model:     %s\n", cfg.AI.VisionModel)
			fmt.Printf("  Language Model:   %s\n", cfg.AI.LanguageModel)
			fmt.Printf("  Timeout:          %s\n", cfg.AI.Timeout)
			fmt.Printf("  Rate Limit:       %d req/s (burst: %d)\n",
				cfg.AI.RateLimit.Requests, cfg.AI.RateLimit.Burst)
			fmt.Printf("  Max Attempts:     %d\n", cfg.AI.MaxAttempts)

			fmt.Println("\nPipeline:")
			fmt.Printf("  Batch Size:       %d documents\n", cfg.Pipeline.BatchSize)
			fmt.Printf("  Max Batches:      %d\n", cfg.Pipeline.MaxBatches)
			fmt.Printf("  Concurrency:      %d workers per stage\n", cfg.Pipeline.WorkerConcurrency)
			fmt.Printf("  Lease Duration:   %s\n", cfg.Pipeline.LeaseDuration)
			fmt.Printf("  Coord. Timeout:   %s\n", cfg.Pipeline.CoordinatorTimeout)

			fmt.Println("\nStorage:")
			fmt.Printf("  Upload Dir:       %s\n", cfg.Storage.UploadDir)
			fmt.Printf("  Output Dir:       %s\n", cfg.Storage.OutputDir)

			fmt.Println("\nDaemon:")
			fmt.Printf("  Socket Path:      %s\n", cfg.Daemon.SocketPath)
			if cfg.Daemon.Address != "" {
				fmt.Printf("  TCP Address:      %s\n", cfg.Daemon.Address)
			}
			fmt.Printf("  PID File:         %s\n", cfg.Daemon.PIDFile)
			fmt.Printf("  Shutdown Timeout: %s\n", cfg.Daemon.ShutdownTimeout)

			fmt.Println("\nLogging:")
			fmt.Printf("  Level:            %s\n", cfg.Logging.Level)
			fmt.Printf("  Format:           %s\n", cfg.Logging.Format)
			fmt.Printf("  Output:           %s\n", cfg.Logging.Output)

			return nil
		},
	}

	return cmd
}

// newConfigSetTenantCommand creates the config set-tenant subcommand
func newConfigSetTenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-tenant <slug>",
		Short: "Set default tenant",
		Long: `Set the default tenant to use for commands.

The default tenant is used when no --tenant flag is specified.

Example:
  qbank config set-tenant acme`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]

			// Create user config handler
			userConfigHandler, err := config.NewUserConfigHandler()
			if err != nil {
				return fmt.Errorf("failed to create user config handler: %w", err)
			}

			// Verify tenant exists in database
			db, err := openStore()
			if err != nil {
				return err
			}

			repo := persistence.NewGormTenantRepository(db)
			found, err := findTenant(context.Background(), repo, slug)
			if err != nil {
				return err
			}

			if err := userConfigHandler.SetDefaultTenant(found.Slug()); err != nil {
				return fmt.Errorf("failed to set default tenant: %w", err)
			}

			fmt.Println("✓ Default tenant set successfully")
			fmt.Printf("  Slug: %s\n", found.Slug())
			fmt.Printf("  ID:   %s\n", found.ID())
			fmt.Printf("\nCommands will now use this tenant by default.\n")
			fmt.Printf("Override with the --tenant flag.\n")

			return nil
		},
	}

	return cmd
}

// newConfigClearTenantCommand creates the config clear-tenant subcommand
func newConfigClearTenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-tenant",
		Short: "Clear default tenant setting",
		Long: `Remove the default tenant setting.

After clearing, you must explicitly pass --tenant for commands that
require tenant context.

Example:
  qbank config clear-tenant`,
		RunE: func(cmd *cobra.Command, args []string) error {
			userConfigHandler, err := config.NewUserConfigHandler()
			if err != nil {
				return fmt.Errorf("failed to create user config handler: %w", err)
			}

			if err := userConfigHandler.ClearDefaultTenant(); err != nil {
				return fmt.Errorf("failed to clear default tenant: %w", err)
			}

			fmt.Println("✓ Default tenant cleared")
			fmt.Println("\nYou must now pass --tenant for tenant-scoped commands.")

			return nil
		},
	}

	return cmd
}

// maskPassword masks the password in a connection URL for display
func maskPassword(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	if _, has := parsed.User.Password(); has {
		parsed.User = url.UserPassword(parsed.User.Username(), "****")
	}
	return parsed.String()
}
