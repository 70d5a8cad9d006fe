package main

import (
	"context"
	"os"

	"github.com/pipeflow/automation/pkg/cmd"
	"github.com/pipeflow/automation/pkg/webhook"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "pipeflow-api",
		Usage:                 "Manage automation workflows and accept pipeline events",
		EnableShellCompletion: true,
		Flags: cmd.Flags(
			[]cli.Flag{
				&cli.IntFlag{
					Name:    "port",
					Aliases: []string{"p"},
					Usage:   "Port to run the API server on",
					Value:   defaultPort,
					Sources: cli.EnvVars("PORT"),
				},
				&cli.BoolFlag{
					Name:    "embedded-worker",
					Usage:   "Run the automation engine in the API process (always on with the gochannel bus)",
					Sources: cli.EnvVars("EMBEDDED_WORKER"),
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
	runtime, err := cmd.NewRuntime(ctx, command, "pipeflow-api")
	if err != nil {
		return err
	}

	logger := runtime.Logger

	defer func() {
		err := runtime.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Initializing Pipeflow API")

	// The in-process bus never leaves this process, so the engine has to run here.
	if command.Bool("embedded-worker") || command.String("event-bus") == cmd.EventBusGoChannel {
		automation, closeGuard, err := runtime.NewAutomationFromFlags(ctx, command)
		if err != nil {
			return err
		}

		defer func() {
			_ = closeGuard()
		}()

		err = automation.Start(ctx)
		if err != nil {
			return err
		}

		defer automation.Stop(ctx)
	}

	dispatcher := webhook.NewDispatcher(logger, webhook.WithDefaultTimeout(command.Duration("webhook-timeout")))
	api := NewAPI(logger, runtime.Persistence, runtime.Bus, dispatcher)

	err = api.Start(command.Int("port"))
	if err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
