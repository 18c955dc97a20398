package commands

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/stack-orchestrator/internal/orchestrator"
	"github.com/alvesdmateus/stack-orchestrator/internal/queue"
	"github.com/alvesdmateus/stack-orchestrator/internal/state"
	"github.com/alvesdmateus/stack-orchestrator/pkg/config"
	"github.com/alvesdmateus/stack-orchestrator/pkg/database"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "stack-orchestrator - deployment orchestration for IaC stacks and microservices",
	Long: `stack-orchestrator drives infrastructure and microservice deployments
through durable queued tasks: provision, update, rollback and destroy.

Requests are recorded as Jobs and executed asynchronously by the worker;
this CLI submits work and inspects its state.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sweepCmd)
}

// session bundles the connections a command needs.
type session struct {
	cfg    *config.Config
	client *orchestrator.Client
	repo   *state.Repository
	logger zerolog.Logger

	close func()
}

// newSession loads configuration and connects to the database and queue.
func newSession(ctx context.Context) (*session, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.New(database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	redisQueue, err := queue.NewRedisQueue(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	repo := state.NewRepository(db)

	return &session{
		cfg:    cfg,
		client: orchestrator.NewClient(redisQueue, repo, logger),
		repo:   repo,
		logger: logger,
		close: func() {
			redisQueue.Close()
			database.Close(db)
		},
	}, nil
}
