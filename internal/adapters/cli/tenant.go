package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/qbanklabs/qbank-go/internal/adapters/persistence"
	"github.com/qbanklabs/qbank-go/internal/domain/tenant"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/config"
	"github.com/qbanklabs/qbank-go/internal/infrastructure/database"
)

// NewTenantCommand creates the tenant command with subcommands
func NewTenantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Administer tenants",
		Long: `Administer tenants and their category lists. These commands talk
to the store directly and work whether or not the daemon is running.`,
	}

	cmd.AddCommand(newTenantCreateCommand())
	cmd.AddCommand(newTenantListCommand())
	cmd.AddCommand(newTenantActivateCommand())
	cmd.AddCommand(newTenantDeactivateCommand())
	cmd.AddCommand(newTenantCategoryCommand())

	return cmd
}

// openStore connects to the configured database for admin commands
func openStore() (*gorm.DB, error) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// findTenant resolves an ID-or-slug argument against the store
func findTenant(ctx context.Context, repo tenant.Repository, idOrSlug string) (*tenant.Tenant, error) {
	found, err := repo.FindByID(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found, err = repo.FindBySlug(ctx, idOrSlug)
		if err != nil {
			return nil, err
		}
	}
	if found == nil {
		return nil, fmt.Errorf("tenant '%s' not found", idOrSlug)
	}
	return found, nil
}

// newTenantCreateCommand creates a tenant
func newTenantCreateCommand() *cobra.Command {
	var (
		maxRuns   int
		storageMB int
		aiKey     string
	)

	cmd := &cobra.Command{
		Use:   "create <slug>",
		Short: "Create a new tenant",
		Long: `Create an active tenant with the given quotas.

Examples:
  qbank tenant create acme
  qbank tenant create acme --max-runs 4 --storage-mb 20480
  qbank tenant create acme --ai-key AIza...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slug := args[0]

			db, err := openStore()
			if err != nil {
				return err
			}

			repo := persistence.NewGormTenantRepository(db)
			ctx := context.Background()

			existing, err := repo.FindBySlug(ctx, slug)
			if err != nil {
				return fmt.Errorf("failed to check slug: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("tenant '%s' already exists", slug)
			}

			newTenant, err := tenant.NewTenant(slug, maxRuns, storageMB)
			if err != nil {
				return err
			}
			if aiKey != "" {
				newTenant.SetAICredential(aiKey)
			}

			if err := repo.Create(ctx, newTenant); err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}

			fmt.Println("✓ Tenant created")
			fmt.Printf("  ID:              %s\n", newTenant.ID())
			fmt.Printf("  Slug:            %s\n", newTenant.Slug())
			fmt.Printf("  Max Runs:        %d\n", newTenant.MaxConcurrentRuns())
			fmt.Printf("  Storage Budget:  %d MB\n", newTenant.StorageBudgetMB())
			fmt.Printf("\nAdd categories with: qbank tenant category add %s <key> <name>\n", slug)

			return nil
		},
	}

	cmd.Flags().IntVar(&maxRuns, "max-runs", 2, "Maximum concurrent active runs")
	cmd.Flags().IntVar(&storageMB, "storage-mb", 10240, "Storage budget in megabytes")
	cmd.Flags().StringVar(&aiKey, "ai-key", "", "Tenant-scoped AI credential (optional)")

	return cmd
}

// newTenantListCommand lists all tenants
func newTenantListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			repo := persistence.NewGormTenantRepository(db)
			tenants, err := repo.FindAll(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list tenants: %w", err)
			}

			if len(tenants) == 0 {
				fmt.Println("No tenants found")
				return nil
			}

			fmt.Printf("%-20s %-36s %-8s %-9s %-10s %s\n",
				"SLUG", "ID", "ACTIVE", "MAX RUNS", "STORAGE", "CREATED")
			fmt.Println("──────────────────────────────────────────────────────────────────────────────────────────────────")

			for _, t := range tenants {
				active := "yes"
				if !t.IsActive() {
					active = "no"
				}
				fmt.Printf("%-20s %-36s %-8s %-9d %-10s %s\n",
					truncate(t.Slug(), 20),
					t.ID(),
					active,
					t.MaxConcurrentRuns(),
					fmt.Sprintf("%d MB", t.StorageBudgetMB()),
					formatTimestamp(t.CreatedAt()),
				)
			}

			fmt.Printf("\nTotal: %d tenants\n", len(tenants))

			return nil
		},
	}

	return cmd
}

// newTenantActivateCommand re-enables a tenant
func newTenantActivateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate <tenant>",
		Short: "Re-enable submissions for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			repo := persistence.NewGormTenantRepository(db)
			ctx := context.Background()

			found, err := findTenant(ctx, repo, args[0])
			if err != nil {
				return err
			}

			found.Activate()
			if err := repo.Update(ctx, found); err != nil {
				return fmt.Errorf("failed to activate tenant: %w", err)
			}

			fmt.Printf("✓ Tenant activated: %s\n", found.Slug())

			return nil
		},
	}

	return cmd
}

// newTenantDeactivateCommand soft-disables a tenant
func newTenantDeactivateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <tenant>",
		Short: "Block new submissions for a tenant",
		Long: `Deactivate a tenant. New submissions are rejected; runs already
admitted keep executing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			repo := persistence.NewGormTenantRepository(db)
			ctx := context.Background()

			found, err := findTenant(ctx, repo, args[0])
			if err != nil {
				return err
			}

			found.Deactivate()
			if err := repo.Update(ctx, found); err != nil {
				return fmt.Errorf("failed to deactivate tenant: %w", err)
			}

			fmt.Printf("✓ Tenant deactivated: %s\n", found.Slug())

			return nil
		},
	}

	return cmd
}

// newTenantCategoryCommand groups the category subcommands
func newTenantCategoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Manage a tenant's categories",
		Long: `Manage the category list that drives AI categorization and the
split stage's output files.`,
	}

	cmd.AddCommand(newCategoryAddCommand())
	cmd.AddCommand(newCategoryListCommand())

	return cmd
}

// newCategoryAddCommand adds one category to a tenant
func newCategoryAddCommand() *cobra.Command {
	var (
		subcategory string
		order       int
	)

	cmd := &cobra.Command{
		Use:   "add <tenant> <key> <name>",
		Short: "Add a category to a tenant",
		Long: `Add one category. The key is what the AI categorizer returns;
the name (or subcategory, when given) becomes the split stage's output
filename.

Examples:
  qbank tenant category add acme anatomy "Anatomy"
  qbank tenant category add acme phys "Physiology" --subcategory "Renal" --order 2`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			tenants := persistence.NewGormTenantRepository(db)
			categories := persistence.NewGormCategoryRepository(db)
			ctx := context.Background()

			owner, err := findTenant(ctx, tenants, args[0])
			if err != nil {
				return err
			}

			existing, err := categories.FindByKey(ctx, owner.ID(), args[1])
			if err != nil {
				return fmt.Errorf("failed to check key: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("category '%s' already exists for tenant %s", args[1], owner.Slug())
			}

			var subPtr *string
			if subcategory != "" {
				subPtr = &subcategory
			}

			category, err := tenant.NewCategory(owner.ID(), args[1], args[2], subPtr, order)
			if err != nil {
				return err
			}

			if err := categories.Create(ctx, category); err != nil {
				return fmt.Errorf("failed to create category: %w", err)
			}

			fmt.Println("✓ Category added")
			fmt.Printf("  Tenant:      %s\n", owner.Slug())
			fmt.Printf("  Key:         %s\n", category.Key())
			fmt.Printf("  Name:        %s\n", category.Name())
			if category.HasSubcategory() {
				fmt.Printf("  Subcategory: %s\n", *category.Subcategory())
			}
			fmt.Printf("  Output Name: %s\n", category.OutputName())

			return nil
		},
	}

	cmd.Flags().StringVar(&subcategory, "subcategory", "", "Optional subcategory label")
	cmd.Flags().IntVar(&order, "order", 0, "Position within the tenant's category list")

	return cmd
}

// newCategoryListCommand lists a tenant's categories
func newCategoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <tenant>",
		Short: "List a tenant's categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}

			tenants := persistence.NewGormTenantRepository(db)
			categories := persistence.NewGormCategoryRepository(db)
			ctx := context.Background()

			owner, err := findTenant(ctx, tenants, args[0])
			if err != nil {
				return err
			}

			list, err := categories.FindByTenant(ctx, owner.ID())
			if err != nil {
				return fmt.Errorf("failed to list categories: %w", err)
			}

			if len(list) == 0 {
				fmt.Printf("No categories found for tenant: %s\n", owner.Slug())
				return nil
			}

			fmt.Printf("%-6s %-16s %-24s %-16s %s\n",
				"ORDER", "KEY", "NAME", "SUBCATEGORY", "OUTPUT NAME")
			fmt.Println("────────────────────────────────────────────────────────────────────────────────")

			for _, c := range list {
				sub := "-"
				if c.HasSubcategory() {
					sub = *c.Subcategory()
				}
				fmt.Printf("%-6d %-16s %-24s %-16s %s\n",
					c.SortOrder(),
					truncate(c.Key(), 16),
					truncate(c.Name(), 24),
					truncate(sub, 16),
					c.OutputName(),
				)
			}

			fmt.Printf("\nTotal: %d categories\n", len(list))

			return nil
		},
	}

	return cmd
}
