package console

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelvide/queuehost/pkg/config"
	"github.com/pixelvide/queuehost/pkg/connection"
	"github.com/pixelvide/queuehost/pkg/schedule"
	"github.com/pixelvide/queuehost/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewScheduleCommand builds the schedule:run command for the global kernel
func NewScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule:run",
		Short: "Run the scheduled tasks",
		RunE:  runSchedule,
	}
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := telemetry.SetGlobalLogger(cfg.App)

	manager := connection.NewManager(cfg, logger)
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing lock connections")
		}
	}()

	lockProvider, err := lockProviderFor(cfg, manager, logger)
	if err != nil {
		return err
	}

	kernel := schedule.GetGlobalKernel()
	kernel.SetLogger(logger)
	kernel.SetLockProvider(lockProvider)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kernel.Run(ctx)
	return nil
}

// lockProviderFor picks the OnOneServer lock backend from CACHE_STORE
func lockProviderFor(cfg *config.Config, manager *connection.Manager, logger zerolog.Logger) (schedule.LockProvider, error) {
	switch cfg.Cache.Store {
	case connection.Redis:
		return schedule.NewRedisLockProvider(manager.RedisClient()), nil
	case connection.Database:
		db, err := manager.DB()
		if err != nil {
			return nil, fmt.Errorf("connect to database for scheduler lock: %w", err)
		}
		return schedule.NewDatabaseLockProvider(db, cfg.Database.Connection), nil
	}
	logger.Info().Str("store", cfg.Cache.Store).Msg("No distributed lock provider configured. OnOneServer will not work across multiple servers.")
	return nil, nil
}

// Register adds queue:work and schedule:run to parent
func Register(parent *cobra.Command, options ...WorkerOption) {
	parent.AddCommand(NewWorkerCommand(options...), NewScheduleCommand())
}
