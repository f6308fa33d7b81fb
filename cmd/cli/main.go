package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/relief-coordination/cmd/cli/commands"
	"github.com/jakechorley/relief-coordination/internal/config"
	"github.com/jakechorley/relief-coordination/pkg/core/coordinator"
	"github.com/jakechorley/relief-coordination/pkg/core/model"
	"github.com/jakechorley/relief-coordination/pkg/core/notify"
	"github.com/jakechorley/relief-coordination/pkg/core/registry"
	"github.com/jakechorley/relief-coordination/pkg/events"
	"github.com/jakechorley/relief-coordination/pkg/utils/logging"
)

var (
	env       string
	verbose   bool
	actorID   string
	actorRole string
	actorName string
	app       = &commands.AppContext{}
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relief",
		Short: "Relief coordination CLI - match needs with offers of help",
		Long: `A CLI for posting needs and offers during a relief effort, responding to them,
and following the shared board. Every agent pointed at the same store sees the same board.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeApp()
		},
	}

	// Add persistent flags
	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.MarkPersistentFlagRequired("env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to the console")
	rootCmd.PersistentFlags().StringVar(&actorID, "as", "", "User id to act as")
	rootCmd.PersistentFlags().StringVar(&actorRole, "role", "", "Role to act with (victim, volunteer, ngo, government)")
	rootCmd.PersistentFlags().StringVar(&actorName, "name", "", "Display name")

	// Add all commands
	rootCmd.AddCommand(commands.PostCmd(app))
	rootCmd.AddCommand(commands.RespondCmd(app))
	rootCmd.AddCommand(commands.StatusCmd(app))
	rootCmd.AddCommand(commands.ListCmd(app))
	rootCmd.AddCommand(commands.BoardCmd(app))
	rootCmd.AddCommand(commands.ResponsesCmd(app))
	rootCmd.AddCommand(commands.RespondersCmd(app))
	rootCmd.AddCommand(commands.NotificationsCmd(app))
	rootCmd.AddCommand(commands.ReadCmd(app))
	rootCmd.AddCommand(commands.CloseCmd(app))
	rootCmd.AddCommand(commands.ReindexCmd(app))
	rootCmd.AddCommand(commands.DigestCmd(app))
	rootCmd.AddCommand(commands.WatchCmd(app))
	rootCmd.AddCommand(commands.MigrateCmd(app))
	rootCmd.AddCommand(commands.InteractiveCmd(app))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, store and the engine components
func initApp() error {
	var err error
	app.Ctx = context.Background()
	app.Env = env

	// Initialize logger
	app.Logger, err = logging.InitLogger(env, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.Logger.Info("Starting application", zap.String("environment", env))

	// Load configuration
	app.Logger.Info("Loading configuration")
	app.Cfg, err = config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.Logger.Debug("Configuration loaded successfully", zap.String("backend", app.Cfg.Store.Backend))

	// Resolve the acting user
	app.Actor, err = actorFromFlags()
	if err != nil {
		return err
	}

	// Open the shared store
	app.Logger.Info("Opening store", zap.String("backend", app.Cfg.Store.Backend))
	app.Store, err = openStore(app.Ctx, app.Cfg, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	app.Logger.Debug("Store opened successfully")

	// Wire the engine
	app.Bus = events.NewBus()
	app.Registry = registry.New(app.Store, app.Bus, app.Logger)
	app.Sink = notify.NewSink(app.Store, app.Logger, app.Cfg.NotificationLink)
	app.Coordinator = coordinator.New(app.Store, app.Registry, app.Sink, app.Bus, app.Logger)
	app.Logger.Info("Engine initialized successfully")

	return nil
}

func closeApp() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil && app.Logger != nil {
			app.Logger.Warn("Failed to close store", zap.Error(err))
		}
	}
	if app.Logger != nil {
		app.Logger.Sync()
	}
}

// actorFromFlags builds the actor from --as, --role and --name. With no --as
// the actor is unauthenticated and may only read the board.
func actorFromFlags() (model.Actor, error) {
	if actorID == "" {
		return model.Actor{}, nil
	}
	role, err := model.ParseRole(actorRole)
	if err != nil {
		return model.Actor{}, fmt.Errorf("--role: %w", err)
	}
	return model.Actor{ID: actorID, Role: role, Name: actorName}, nil
}
