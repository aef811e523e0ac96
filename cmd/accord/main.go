package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/accordbilling/accord/internal/attach"
	"github.com/accordbilling/accord/internal/balance"
	"github.com/accordbilling/accord/internal/catalog"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/accordbilling/accord/internal/clock"
	"github.com/accordbilling/accord/internal/config"
	"github.com/accordbilling/accord/internal/cusproduct"
	cusproductdomain "github.com/accordbilling/accord/internal/cusproduct/domain"
	"github.com/accordbilling/accord/internal/customer"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	"github.com/accordbilling/accord/internal/db"
	"github.com/accordbilling/accord/internal/lock"
	"github.com/accordbilling/accord/internal/observability"
	"github.com/accordbilling/accord/internal/processor"
	"github.com/accordbilling/accord/internal/redis"
	"github.com/accordbilling/accord/internal/server"
	"github.com/accordbilling/accord/internal/trial"
	"github.com/accordbilling/accord/internal/usage"
	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "accord",
		Short:   "Accord billing engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runServe()
			return nil
		},
	}
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		fx.Invoke(migrateSchema),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		customer.Module,
		catalog.Module,
		cusproduct.Module,
		trial.Module,
		processor.Module,
		balance.Module,
		lock.Module,
		attach.Module,
		usage.Module,
		server.Module,
	)
	app.Run()
}

func migrateSchema(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&customerdomain.Customer{},
		&catalogdomain.Feature{},
		&catalogdomain.Product{},
		&catalogdomain.Price{},
		&catalogdomain.Entitlement{},
		&catalogdomain.FreeTrial{},
		&cusproductdomain.CustomerProduct{},
		&cusproductdomain.CustomerEntitlement{},
		&cusproductdomain.CustomerPrice{},
		&cusproductdomain.Rollover{},
		&cusproductdomain.Replaceable{},
	)
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
