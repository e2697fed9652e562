// Kestrel - subcontractor insurance compliance checks.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "kestrel",
	Short:         "Insurance compliance engine for construction subcontractors",
	Long:          "Kestrel composes insurance requirements from project type and trades, validates certificates of insurance against them, and flags trade exclusions.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitCodeError carries a process exit code other than 1.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	setupLogger()

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogger installs the JSON slog handler; KESTREL_DEBUG=true lowers the level.
func setupLogger() {
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}
