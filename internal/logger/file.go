package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogFileConfig names the per-run log file a worker or scheduler opens
// for one workflow/DAG run, grounded on the teacher's own log-file
// naming convention (timestamp + truncated request id).
type LogFileConfig struct {
	Prefix    string
	LogDir    string
	DAGLogDir string
	DAGName   string
	RequestID string
}

// OpenLogFile creates config's log directory if needed and opens (or
// creates) its log file for append.
func OpenLogFile(config LogFileConfig) (*os.File, error) {
	if config.DAGName == "" {
		return nil, fmt.Errorf("logger: DAGName must not be empty")
	}
	if config.LogDir == "" && config.DAGLogDir == "" {
		return nil, fmt.Errorf("logger: either LogDir or DAGLogDir must be set")
	}

	dir, err := prepareLogDirectory(config)
	if err != nil {
		return nil, fmt.Errorf("logger: prepare log directory: %w", err)
	}
	return openFile(filepath.Join(dir, generateLogFilename(config)))
}

func prepareLogDirectory(config LogFileConfig) (string, error) {
	base := config.LogDir
	if config.DAGLogDir != "" {
		base = config.DAGLogDir
	}
	dir := filepath.Join(base, safeName(config.DAGName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

func generateLogFilename(config LogFileConfig) string {
	timestamp := time.Now().Format("20060102.15:04:05.000")
	return fmt.Sprintf("%s%s.%s.%s.log",
		config.Prefix,
		safeName(config.DAGName),
		timestamp,
		truncString(config.RequestID, 8),
	)
}

func openFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// safeName replaces characters unsafe for filesystem paths with
// underscores, so a workflow or DAG name can be used as a directory or
// file name component.
func safeName(name string) string {
	r := strings.NewReplacer(
		" ", "_", "/", "_", "\\", "_", ":", "_",
		"*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	return r.Replace(name)
}

func truncString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
