package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/okian/proctor/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging sends logs to both the console and a file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "simulation_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.Init(logger.WithWriter(io.MultiWriter(os.Stdout, file))); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			return err
		}
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Proctor Session Simulator
=========================

Drives scripted candidates through real proctoring sessions against a running
server, then checks the stored timelines and result reports.

Usage:
  go run ./cmd/proctor-sim [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -secret string
        JWT secret shared with the server (default: PROCTOR_JWT_SECRET or the built-in default)
  -exam string
        Exam ID (default: generated)
  -scenario string
        One of: ` + strings.Join(Names(), ", ") + `, mixed, all (default "all")
  -candidates int
        Number of simulated candidates (default 8)
  -workers int
        Sessions running at once (default: candidates)
  -speed float
        Exam seconds per wall-clock second (default 10)
  -timeout duration
        HTTP request timeout (default 10s)
  -output string
        Output file for session outcomes (default: simulation_TIMESTAMP.json)
  -log string
        Log file for simulator output (default: simulation_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

The server's per-IP rate limit applies to every simulated candidate; raise
PROCTOR_RATE_LIMIT when running many candidates from one host.

Examples:
  # Every scenario once
  go run ./cmd/proctor-sim

  # Twenty noisy candidates at real speed
  go run ./cmd/proctor-sim -scenario noisy -candidates 20 -speed 1
`)
}
