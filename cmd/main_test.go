package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectError    bool
		expectContains []string
	}{
		{
			name: "HelpCommand",
			args: []string{"--help"},
			expectContains: []string{
				"Distributed workflow engine",
				"workflow",
				"worker",
			},
		},
		{
			name:        "InvalidCommand",
			args:        []string{"invalid-command"},
			expectError: true,
			expectContains: []string{
				"unknown command",
			},
		},
		{
			name: "NoArguments",
			args: []string{},
			expectContains: []string{
				"Distributed workflow engine",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			buf := new(bytes.Buffer)
			root.SetOut(buf)
			root.SetErr(buf)
			root.SetArgs(tt.args)

			err := root.Execute()
			if tt.expectError {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			for _, want := range tt.expectContains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRootCommand_RegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"config", "workflow", "worker"} {
		assert.True(t, names[want], "expected subcommand %q to be registered", want)
	}
}
