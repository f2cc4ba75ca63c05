package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lightflow-run/lightflow/internal/config"
)

//go:embed examples/*.yaml
var exampleWorkflows embed.FS

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the Lightflow configuration file.",
	}
	cmd.AddCommand(newConfigDefaultCmd())
	cmd.AddCommand(newConfigExamplesCmd())
	return cmd
}

func newConfigDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default <dir>",
		Short: "Emit default config at <dir>/lightflow.cfg.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fatalf(1, "create %s: %v", dir, err)
			}
			body, err := config.DefaultYAML()
			if err != nil {
				fatalf(1, "render default config: %v", err)
			}
			path := filepath.Join(dir, "lightflow.cfg")
			if err := os.WriteFile(path, body, 0o644); err != nil {
				fatalf(1, "write %s: %v", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func newConfigExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples <dir>",
		Short: "Copy example workflow files into <dir>.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := os.MkdirAll(dir, 0o755); err != nil {
				fatalf(1, "create %s: %v", dir, err)
			}
			entries, err := exampleWorkflows.ReadDir("examples")
			if err != nil {
				fatalf(1, "read embedded examples: %v", err)
			}
			for _, ent := range entries {
				data, err := exampleWorkflows.ReadFile(filepath.Join("examples", ent.Name()))
				if err != nil {
					fatalf(1, "read embedded %s: %v", ent.Name(), err)
				}
				dest := filepath.Join(dir, ent.Name())
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					fatalf(1, "write %s: %v", dest, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dest)
			}
			return nil
		},
	}
}
