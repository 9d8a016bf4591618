package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scan2doc/version"
)

var (
	cfgFile  string
	homeDir  string
	logLevel string
)

// ParseLogLevel converts a string log level to slog.Level.
// Supports: debug, info, warn, error (case-insensitive).
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", level)
	}
}

// GetLogLevel returns the configured log level, checking:
// 1. CLI flag (--log-level)
// 2. Environment variable (SCAN2DOC_LOG_LEVEL)
// 3. Default (info)
func GetLogLevel() slog.Level {
	level := logLevel
	if level == "" {
		level = os.Getenv("SCAN2DOC_LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}

	parsed, err := ParseLogLevel(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using info\n", err)
		return slog.LevelInfo
	}
	return parsed
}

var rootCmd = &cobra.Command{
	Use:   "scan2doc",
	Short: "Page-lifecycle engine for a browser-only document scanner",
	Long: `scan2doc runs the page-lifecycle engine behind a browser-only document
scanner: it ingests scanned images and PDFs, renders PDF pages off the main
thread, submits ready pages to a remote OCR endpoint under health-gated
admission control, and generates Markdown/searchable-PDF/DOCX artifacts per
page, with state persisted so a crashed process resumes where it left off.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scan2doc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scan2doc home directory (default: ~/.scan2doc)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn, error (default: info, env: SCAN2DOC_LOG_LEVEL)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(versionCmd)
}
