package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lightflow-run/lightflow/internal/config"
	"github.com/lightflow-run/lightflow/internal/core"
	"github.com/lightflow-run/lightflow/internal/dagrun"
	"github.com/lightflow-run/lightflow/internal/signalbus"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "List, start, stop, abort, and inspect workflow runs.",
	}
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowStartCmd())
	cmd.AddCommand(newWorkflowStopCmd())
	cmd.AddCommand(newWorkflowAbortCmd())
	cmd.AddCommand(newWorkflowStatusCmd())
	return cmd
}

func loadApp() *app {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fatalf(1, "load config: %v", err)
	}
	a, err := newApp(cfg, quiet, debug)
	if err != nil {
		fatalf(2, "initialize: %v", err)
	}
	return a
}

func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Enumerate workflows from configured search paths.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			specs, err := a.loader.List()
			if err != nil {
				fatalf(2, "list workflows: %v", err)
			}
			for _, s := range specs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Name, s.Description)
			}
			return nil
		},
	}
}

func newWorkflowStartCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "start <name>",
		Short: "Enqueue a workflow job and exit after submission.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			a := loadApp()

			if _, err := a.loader.Load(name); err != nil {
				fatalf(3, "%v", err)
			}

			launchParams := map[string]string{}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok {
					fatalf(1, "invalid --param %q: expected key=value", p)
				}
				launchParams[k] = v
			}

			payload, err := dagrun.EncodeStartOptions(dagrun.StartOptions{Params: launchParams})
			if err != nil {
				fatalf(1, "encode launch params: %v", err)
			}

			runID := newRunID()
			record := core.JobRecord{
				ID:      uuid.Must(uuid.NewRandom()).String(),
				Kind:    core.JobWorkflow,
				RunID:   runID,
				DagName: name,
				Payload: payload,
			}
			ctx := context.Background()
			if _, err := a.queue.Submit(ctx, "workflow", record); err != nil {
				fatalf(2, "submit workflow job: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "launch parameter as key=value (repeatable)")
	return cmd
}

func newWorkflowStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <runId>",
		Short: "Publish a stop signal for a running workflow.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			ctx := context.Background()
			err := a.bus.Publish(ctx, core.Signal{RunID: args[0], Kind: core.SignalStopRequest})
			if err != nil {
				fatalf(2, "publish stop-request: %v", err)
			}
			return nil
		},
	}
}

func newWorkflowAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <runId>",
		Short: "Publish an abort signal for a running workflow.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()
			ctx := context.Background()
			err := a.bus.Publish(ctx, core.Signal{RunID: args[0], Kind: core.SignalAbortRequest})
			if err != nil {
				fatalf(2, "publish abort-request: %v", err)
			}
			return nil
		},
	}
}

func newWorkflowStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [runId]",
		Short: "Query worker state over the signal bus.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "usage: workflow status <runId>")
				return nil
			}
			a := loadApp()
			ctx := context.Background()
			correlationID := uuid.Must(uuid.NewRandom()).String()
			reply, err := signalbus.Request(ctx, a.bus, args[0], core.Signal{Kind: core.SignalQuery}, correlationID, 5*time.Second)
			if err != nil {
				fatalf(2, "query run %s: %v", args[0], err)
			}
			var wq core.WorkerQueryReply
			if err := json.Unmarshal(reply.Payload, &wq); err != nil {
				fatalf(2, "decode query reply: %v", err)
			}
			out, _ := json.MarshalIndent(wq, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
