package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "pipeflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Match pipeline events to workflows and execute their runs",
		Flags: cmd.Flags(
			[]cli.Flag{
				&cli.StringFlag{
					Name:    "worker-id",
					Aliases: []string{"id"},
					Usage:   "Custom worker ID (auto-generated if not provided)",
					Sources: cli.EnvVars("WORKER_ID"),
				},
			},
			cmd.CommonFlags(),
			cmd.AutomationFlags(),
		),
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	runtime, err := cmd.NewRuntime(ctx, command, "pipeflow-worker")
	if err != nil {
		return err
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := runtime.Logger.With("worker_id", workerID)

	defer func() {
		err := runtime.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Initializing Pipeflow worker")

	automation, closeGuard, err := runtime.NewAutomationFromFlags(ctx, command)
	if err != nil {
		return err
	}

	defer func() {
		_ = closeGuard()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = automation.Start(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start automation engine", "error", err)

		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.InfoContext(ctx, "Shutting down worker...")

	automation.Stop(ctx)

	return nil
}
