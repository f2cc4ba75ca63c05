package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightflow-run/lightflow/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run and inspect the worker loop (component I).",
	}
	cmd.AddCommand(newWorkerStartCmd())
	cmd.AddCommand(newWorkerStopCmd())
	cmd.AddCommand(newWorkerStatusCmd())
	return cmd
}

func newWorkerStartCmd() *cobra.Command {
	var (
		queuesFlag string
		listenAddr string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Consume jobs from the configured queue subset until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := loadApp()

			queues := a.cfg.Worker.QueueDefault
			if queuesFlag != "" {
				queues = strings.Split(queuesFlag, ",")
			}
			if len(queues) == 0 {
				queues = []string{"task"}
			}
			if listenAddr == "" {
				listenAddr = a.cfg.Worker.ListenAddr
			}

			w := worker.NewWorker("", queues, a.cfg.Worker.Concurrency, a.queue, a.bus, a.store, a.loader, a.runner)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if listenAddr != "" {
				srv := &http.Server{Addr: listenAddr, Handler: worker.NewHTTPServer(w)}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.log.Errorf("worker http server: %v", err)
					}
				}()
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			a.log.Infof("worker %s starting, queues=%v", w.ID, queues)
			if err := w.Start(ctx); err != nil {
				fatalf(2, "worker loop: %v", err)
			}
			a.log.Infof("worker %s stopped", w.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&queuesFlag, "queues", "q", "", "comma-separated queue names to service (default: worker.queues_default)")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "introspection HTTP listen address (default: worker.listen_addr, empty disables it)")
	return cmd
}

func newWorkerStopCmd() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Signal a running worker process to shut down (OS-level, out of the engine's scope).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid == 0 {
				fatalf(1, "--pid is required: lightflow has no central daemon to address a worker by name")
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				fatalf(2, "find process %d: %v", pid, err)
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				fatalf(2, "signal process %d: %v", pid, err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "OS process id of the worker to stop")
	return cmd
}

func newWorkerStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch a worker's /status over its introspection HTTP endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				fatalf(1, "--addr is required (the worker's introspection listen address)")
			}
			resp, err := http.Get("http://" + addr + "/status")
			if err != nil {
				fatalf(2, "fetch status: %v", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				fatalf(2, "read status response: %v", err)
			}
			var pretty map[string]any
			if json.Unmarshal(body, &pretty) == nil {
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(body))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "worker's introspection HTTP address (host:port)")
	return cmd
}
