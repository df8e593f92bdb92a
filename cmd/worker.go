package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/frahmantamala/thematic-predictions/internal/prediction"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run background workers",
	Long:  `Run the expiry sweeper or replay payment notifications through the worker pool.`,
}

var expiryWorkerCmd = &cobra.Command{
	Use:   "expiry",
	Short: "Expire stale pending predictions on an interval",
	Run: func(cmd *cobra.Command, args []string) {
		startExpiryWorker()
	},
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications [payment-id...]",
	Short: "Replay payment notifications",
	Long:  `Confirm the given payment ids through the notification worker pool. Use --stdin to read one id per line.`,
	Run: func(cmd *cobra.Command, args []string) {
		replayNotifications(args)
	},
}

var (
	sweepInterval  time.Duration
	maxWorkers     int
	jobQueueSize   int
	workerPoolSize int
	readStdin      bool
)

func startExpiryWorker() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	interval := getDurationFlag(sweepInterval, deps.Config.Prediction.SweepInterval)
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps.Logger.Info("expiry worker is running. Press Ctrl+C to stop.", "interval", interval.String())
	prediction.NewSweeper(deps.Service, interval, deps.Logger).Run(ctx)
}

func replayNotifications(args []string) {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	ids := append([]string{}, args...)
	if readStdin {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if id := strings.TrimSpace(scanner.Text()); id != "" {
				ids = append(ids, id)
			}
		}
		if err := scanner.Err(); err != nil {
			deps.Logger.Error("failed to read payment ids", "error", err)
		}
	}

	if len(ids) == 0 {
		deps.Logger.Warn("no payment ids to replay")
		return
	}

	poolConfig := prediction.PoolConfig{
		MaxWorkers:     getIntFlag(maxWorkers, deps.Config.Payment.MaxWorkers),
		JobQueueSize:   getIntFlag(jobQueueSize, deps.Config.Payment.JobQueueSize),
		WorkerPoolSize: getIntFlag(workerPoolSize, deps.Config.Payment.WorkerPoolSize),
	}

	deps.Logger.Info("replaying payment notifications",
		"count", len(ids),
		"max_workers", poolConfig.MaxWorkers,
		"job_queue_size", poolConfig.JobQueueSize)

	pool := prediction.NewNotificationPool(deps.Service, poolConfig, deps.Logger)
	for _, id := range ids {
		pool.Dispatch(context.Background(), id)
	}
	pool.Shutdown()

	deps.Logger.Info("payment notification replay complete", "count", len(ids))
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	expiryWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides prediction.sweep_interval, default 1m)")

	notificationWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	notificationWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	notificationWorkerCmd.Flags().IntVar(&workerPoolSize, "worker-pool-size", 0, "Worker pool channel size (overrides config)")
	notificationWorkerCmd.Flags().BoolVar(&readStdin, "stdin", false, "Read payment ids from stdin, one per line")

	workerCmd.AddCommand(expiryWorkerCmd)
	workerCmd.AddCommand(notificationWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
