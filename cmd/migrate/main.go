package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sbt-vault/engine/internal/services"
	"github.com/sbt-vault/engine/pkg/config"
	"github.com/sbt-vault/engine/pkg/database"
	"github.com/sbt-vault/engine/pkg/logger"
)

func main() {
	var seed bool
	var promote, role string

	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.BoolVar(&seed, "seed", false, "create the artifact inventory (INVENTORY_SIZE items); existing rows are kept")
	flagSet.StringVar(&promote, "promote", "", "email of a profile whose role should change")
	flagSet.StringVar(&role, "role", "admin", "role applied with --promote (user or admin)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat, logger.Options{File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL, database.OptionsFrom(cfg))
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := runMigrations(db); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("migrations completed")

	if seed {
		n, err := services.NewInventoryService(db, nil).Seed(ctx, cfg.InventorySize)
		if err != nil {
			log.Fatal("seed failed", zap.Error(err))
		}
		log.Info("inventory seeded", zap.Int64("created", n), zap.Int("size", cfg.InventorySize))
	}

	if promote != "" {
		// Role changes are an operator action; the store is not used here.
		identity := services.NewIdentityService(db, nil, cfg.AvatarBucket, nil)
		if err := identity.Promote(ctx, promote, role); err != nil {
			log.Fatal("promote failed", zap.String("email", promote), zap.Error(err))
		}
		log.Info("role updated", zap.String("email", promote), zap.String("role", role))
	}

	fmt.Fprintln(os.Stdout, "migrations completed")
}
